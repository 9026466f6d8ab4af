package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfSHA256(t *testing.T) {
	d := Of([]byte("test"))
	assert.Equal(t, SHA256, d.Algorithm)
	assert.Equal(t, "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", d.Hex)
	assert.Equal(t, "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", d.String())
}

func TestOfSHA512Length(t *testing.T) {
	d := Of([]byte("test"), SHA512)
	assert.Len(t, d.Hex, 128)
}

func TestParseRoundTrip(t *testing.T) {
	want := Of([]byte("hello world"))
	got, err := Parse(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseRejectsUnknownAlgorithm(t *testing.T) {
	_, err := Parse("md5:" + strings.Repeat("a", 32))
	require.Error(t, err)
	var invalidAlgo *InvalidAlgorithmError
	assert.ErrorAs(t, err, &invalidAlgo)
}

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := Parse("sha256:abcd")
	require.Error(t, err)
}

func TestParseRejectsUppercase(t *testing.T) {
	_, err := Parse("sha256:" + strings.ToUpper(strings.Repeat("a", 64)))
	require.Error(t, err)
}

func TestHasherStreaming(t *testing.T) {
	h, err := NewHasher(SHA256)
	require.NoError(t, err)
	_, err = h.Write([]byte("te"))
	require.NoError(t, err)
	_, err = h.Write([]byte("st"))
	require.NoError(t, err)
	assert.Equal(t, Of([]byte("test")), h.Sum())
}

func TestEqualityAcrossAlgorithms(t *testing.T) {
	a := Of([]byte("x"), SHA256)
	b := Of([]byte("x"), SHA512)
	assert.NotEqual(t, a, b)
}
