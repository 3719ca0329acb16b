package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripDefiner(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "procedure with version-gated wrapper",
			in:   "/*!50017 DEFINER=`dev`@`%` SQL SECURITY DEFINER */ PROCEDURE foo()",
			want: " PROCEDURE foo()",
		},
		{
			name: "view definer backticked host",
			in:   "CREATE DEFINER=`root`@`localhost` VIEW `v` AS SELECT 1",
			want: "CREATE  VIEW `v` AS SELECT 1",
		},
		{
			name: "alter database dropped",
			in:   "ALTER DATABASE `shop` CHARACTER SET utf8mb4\nCREATE TABLE `t` (",
			want: "CREATE TABLE `t` (",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StripDefiner(tc.in)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTokeniseDetokeniseFixedPoint(t *testing.T) {
	ddl := "CREATE DATABASE shop; USE shop; CREATE TABLE shop.users (shop_id INT);"
	tokenised := Tokenise(ddl, "shop")
	assert.NotContains(t, tokenised, "shop;")
	assert.Contains(t, tokenised, Token)

	detok := Detokenise(tokenised, "shop")
	assert.Equal(t, ddl, detok)

	retok := Tokenise(detok, "shop")
	assert.Equal(t, tokenised, retok)
}

func TestTokeniseWholeWordOnly(t *testing.T) {
	ddl := "CREATE DATABASE shop_test;"
	tokenised := Tokenise(ddl, "shop")
	assert.Equal(t, ddl, tokenised, "shop_test must not match whole-word shop")
}

func TestSplitStagesColumnsKeysAndForeignKeys(t *testing.T) {
	input := `-- Table structure for table 'users'
CREATE TABLE ` + "`users`" + ` (
  ` + "`id`" + ` int NOT NULL AUTO_INCREMENT,
  ` + "`name`" + ` varchar(255) DEFAULT NULL,
  PRIMARY KEY (` + "`id`" + `),
  KEY ` + "`idx_name`" + ` (` + "`name`" + `)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
-- Table structure for table 'orders'
CREATE TABLE ` + "`orders`" + ` (
  ` + "`id`" + ` int NOT NULL,
  ` + "`user_id`" + ` int DEFAULT NULL,
  PRIMARY KEY (` + "`id`" + `),
  CONSTRAINT ` + "`fk_user`" + ` FOREIGN KEY (` + "`user_id`" + `) REFERENCES ` + "`users`" + ` (` + "`id`" + `)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`

	stages := SplitStages(input)

	assert.Contains(t, stages.Stage1, "CREATE TABLE `users` (")
	assert.NotContains(t, stages.Stage1, "AUTO_INCREMENT")

	usersStage2 := stages.Stage2["users"]
	assert.Contains(t, usersStage2, "MODIFY `id` int NOT NULL AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, usersStage2, "ADD KEY `idx_name`")
	assert.NotContains(t, usersStage2, "ADD PRIMARY KEY", "primary key implied by MODIFY when AUTO_INCREMENT present")

	ordersStage2 := stages.Stage2["orders"]
	assert.Contains(t, ordersStage2, "ADD PRIMARY KEY (`id`)")

	ordersStage3 := stages.Stage3["orders"]
	assert.Contains(t, ordersStage3, "ADD CONSTRAINT `fk_user` FOREIGN KEY (`user_id`) REFERENCES `users` (`id`)")

	_, hasUsersStage3 := stages.Stage3["users"]
	assert.False(t, hasUsersStage3, "users has no FK so stage3 buffer should be empty")
}
