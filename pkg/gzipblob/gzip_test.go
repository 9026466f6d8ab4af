package gzipblob

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	input := bytes.Repeat([]byte("hello containertool "), 100)
	compressed, err := Compress(input)
	require.NoError(t, err)

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestHeaderIsPlatformIndependent(t *testing.T) {
	compressed, err := Compress([]byte("payload"))
	require.NoError(t, err)

	r, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer r.Close()

	assert.EqualValues(t, 255, r.OS)
	assert.Empty(t, r.Name)
	assert.Empty(t, r.Comment)
	assert.True(t, r.ModTime.IsZero())
}

func TestCompressIsDeterministic(t *testing.T) {
	input := []byte("the quick brown fox jumps over the lazy dog")
	a, err := Compress(input)
	require.NoError(t, err)
	b, err := Compress(input)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmptyInput(t *testing.T) {
	compressed, err := Compress(nil)
	require.NoError(t, err)
	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Empty(t, out)
}
