package ociimage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-containertool/containertool/pkg/digest"
)

func TestEncodeSortsKeys(t *testing.T) {
	m := NewManifest()
	m.Config = Descriptor{MediaType: MediaTypeImageConfig, Digest: digest.Of([]byte("config")), Size: 6}
	m.Layers = []Descriptor{{MediaType: MediaTypeLayerGzip, Digest: digest.Of([]byte("layer")), Size: 5}}

	out, err := Encode(m)
	require.NoError(t, err)

	// "config" sorts before "layers", "mediaType" before "schemaVersion".
	s := string(out)
	assert.Less(t, indexOf(s, `"config"`), indexOf(s, `"layers"`))
	assert.Less(t, indexOf(s, `"mediaType"`), indexOf(s, `"schemaVersion"`))
	assert.Contains(t, s, "  \"config\": {")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := Configuration{
		Architecture: "amd64",
		OS:           "linux",
		RootFS:       RootFS{Type: "layers", DiffIDs: []digest.Digest{digest.Of([]byte("a"))}},
	}
	created := NewTime(time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC))
	cfg.Created = &created

	encoded, err := Encode(cfg)
	require.NoError(t, err)

	var decoded Configuration
	require.NoError(t, Decode(encoded, &decoded))

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestEncodeTruncatesToSeconds(t *testing.T) {
	created := NewTime(time.Date(2024, 3, 1, 12, 0, 0, 999999999, time.UTC))
	cfg := Configuration{Architecture: "amd64", OS: "linux", Created: &created, RootFS: RootFS{Type: "layers"}}
	out, err := Encode(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"2024-03-01T12:00:00Z"`)
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	var m Manifest
	err := Decode([]byte(`{"schemaVersion":2,"config":{"mediaType":"x","digest":"sha256:`+sixtyFourZeros()+`","size":1},"layers":[],"future":"field"}`), &m)
	require.NoError(t, err)
	assert.Equal(t, 2, m.SchemaVersion)
}

func TestDecodeToleratesNullOptional(t *testing.T) {
	var cfg Configuration
	err := Decode([]byte(`{"architecture":"amd64","os":"linux","rootfs":{"type":"layers","diff_ids":null},"config":null,"created":null}`), &cfg)
	require.NoError(t, err)
	assert.Nil(t, cfg.Config)
	assert.Nil(t, cfg.Created)
}

func TestPlatformOSVersionAndFeaturesWireNames(t *testing.T) {
	p := Platform{Architecture: "arm64", OS: "linux", OSVersion: "10.0", OSFeatures: []string{"win32k"}}
	out, err := Encode(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"os.version": "10.0"`)
	assert.Contains(t, string(out), `"os.features"`)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func sixtyFourZeros() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}
