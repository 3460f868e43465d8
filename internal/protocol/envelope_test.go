package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader_ReadsLines(t *testing.T) {
	lr := NewLineReader(strings.NewReader("one\ntwo\nthree"))

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "one", line)

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "two", line)

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "three", line)

	_, err = lr.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestLineReader_TooLong(t *testing.T) {
	lr := NewLineReader(strings.NewReader(strings.Repeat("x", MaxLineLength+1) + "\n"))

	_, err := lr.ReadLine()
	require.ErrorIs(t, err, ErrLineTooLong)
}

func TestResponseWriter_Preamble(t *testing.T) {
	var buf bytes.Buffer
	rw := NewResponseWriter(&buf)

	require.NoError(t, rw.WritePreamble("1.0.0"))
	assert.Equal(t, "VERSION 1\nPROGRAM 1.0.0\n\n", buf.String())
}
