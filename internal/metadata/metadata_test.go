package metadata

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnClassification(t *testing.T) {
	blob := Column{Name: "payload", DataType: "longblob"}
	text := Column{Name: "notes", DataType: "text"}
	plain := Column{Name: "id", DataType: "int"}

	assert.True(t, blob.IsBLOB())
	assert.True(t, blob.IsTextOrBLOB())
	assert.False(t, text.IsBLOB())
	assert.True(t, text.IsTextOrBLOB())
	assert.False(t, plain.IsBLOB())
	assert.False(t, plain.IsTextOrBLOB())
}

func TestListBaseTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT TABLE_NAME FROM information_schema.TABLES").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("orders").
			AddRow("users"))

	tables, err := listBaseTables(context.Background(), db, "shop", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBaseTablesWithFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT TABLE_NAME FROM information_schema.TABLES").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("orders").
			AddRow("users").
			AddRow("audit_log"))

	tables, err := listBaseTables(context.Background(), db, "shop", map[string]bool{"users": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)
}

func TestGetRowCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `users`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := getRowCount(context.Background(), db, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestGetColumnTypes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COLUMN_NAME, DATA_TYPE FROM information_schema.COLUMNS").
		WithArgs("shop", "users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE"}).
			AddRow("id", "int").
			AddRow("avatar", "blob"))

	cols, err := getColumnTypes(context.Background(), db, "shop", "users")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)
	assert.True(t, cols[1].IsBLOB())
}

func TestGetPrimaryOrUniqueKeysFallsBackToUnique(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COLUMN_NAME FROM information_schema.STATISTICS").
		WithArgs("shop", "users", "PRIMARY").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}))

	mock.ExpectQuery("SELECT INDEX_NAME FROM information_schema.STATISTICS").
		WithArgs("shop", "users").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME"}).AddRow("idx_email"))

	mock.ExpectQuery("SELECT COLUMN_NAME FROM information_schema.STATISTICS").
		WithArgs("shop", "users", "idx_email").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("email"))

	keys, err := getPrimaryOrUniqueKeys(context.Background(), db, "shop", "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, keys)
}

func TestDeriveExportExpressions(t *testing.T) {
	cols := []Column{
		{Name: "id", DataType: "int"},
		{Name: "avatar", DataType: "blob"},
	}
	result := DeriveExportExpressions(cols)
	assert.Equal(t, []string{"`id`", "HEX(`avatar`)"}, result.SelectList)
	assert.True(t, result.PagingRequired)
}

func TestDeriveExportExpressionsNoPaging(t *testing.T) {
	cols := []Column{{Name: "id", DataType: "int"}}
	result := DeriveExportExpressions(cols)
	assert.False(t, result.PagingRequired)
}

func TestDeriveImportExpressions(t *testing.T) {
	cols := []Column{
		{Name: "id", DataType: "int"},
		{Name: "avatar", DataType: "blob"},
	}
	result := DeriveImportExpressions(cols)
	assert.Equal(t, []string{"`id`", "@avatar"}, result.ColumnPlaceholders)
	assert.Equal(t, []string{"`avatar`=UNHEX(@avatar)"}, result.SetClauses)
}
