package codec

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestCSVWriterRowEncoding(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	w := NewCSVWriter(bw)

	require.NoError(t, w.WriteHeader([]string{"id", "name", "note"}))
	require.NoError(t, w.WriteRow([]*string{strp("1"), strp("Alice"), nil}))
	require.NoError(t, w.WriteRow([]*string{strp("2"), strp("has, comma"), strp("quote\"inside")}))
	require.NoError(t, w.WriteRow([]*string{strp("3"), strp(" leading space"), strp("trailing space ")}))
	require.NoError(t, w.WriteRow([]*string{strp("4"), strp("back\\slash"), strp("line\nbreak")}))
	require.NoError(t, bw.Flush())

	// Row 4's embedded newline stays literal inside its quoted field, so
	// that record spans two physical lines.
	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 6)
	assert.Equal(t, "id,name,note", string(lines[0]))
	assert.Equal(t, `1,Alice,\N`, string(lines[1]))
	assert.Equal(t, `2,"has, comma","quote\"inside"`, string(lines[2]))
	assert.Equal(t, `3," leading space","trailing space "`, string(lines[3]))
}

func TestNeedsQuoting(t *testing.T) {
	assert.False(t, needsQuoting("plain"))
	assert.False(t, needsQuoting(""))
	assert.True(t, needsQuoting("a,b"))
	assert.True(t, needsQuoting("a\"b"))
	assert.True(t, needsQuoting(" a"))
	assert.True(t, needsQuoting("a "))
	assert.True(t, needsQuoting("a\nb"))
}
