package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-containertool/containertool/pkg/digest"
	"github.com/go-containertool/containertool/pkg/imageref"
	"github.com/go-containertool/containertool/pkg/imagesource"
	"github.com/go-containertool/containertool/pkg/ociimage"
)

func TestPublishFromScratch(t *testing.T) {
	orig := readFile
	defer func() { readFile = orig }()
	readFile = func(p string) ([]byte, error) { return []byte("#!/bin/sh\necho hi\n"), nil }

	src := imagesource.NewScratchSource("amd64", "linux")
	dst := imagesource.NewTarFileDestination()

	base, err := imageref.Parse("scratch", "")
	require.NoError(t, err)
	destRef, err := imageref.Parse("example.com/repo:v1", "")
	require.NoError(t, err)

	req := Request{
		Base:         base,
		BaseRepo:     "",
		Destination:  destRef,
		DestRepo:     "repo",
		Source:       src,
		Sink:         dst,
		Architecture: "amd64",
		OS:           "linux",
		Executable:   "myapp",
		Cmd:          []string{},
		Tag:          "v1",
	}

	result, err := Publish(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.ManifestDigest.IsZero())
	assert.False(t, result.IndexDigest.IsZero())

	archive, err := dst.Bytes()
	require.NoError(t, err)
	assert.NotEmpty(t, archive)
}

func TestPublishWithResources(t *testing.T) {
	orig := readFile
	defer func() { readFile = orig }()
	readFile = func(p string) ([]byte, error) { return []byte("content-of-" + p), nil }

	src := imagesource.NewScratchSource("arm64", "linux")
	dst := imagesource.NewTarFileDestination()

	base, _ := imageref.Parse("scratch", "")
	destRef, _ := imageref.Parse("example.com/repo:v1", "")

	req := Request{
		Base:         base,
		Destination:  destRef,
		DestRepo:     "repo",
		Source:       src,
		Sink:         dst,
		Architecture: "arm64",
		OS:           "linux",
		Executable:   "myapp",
		Resources:    []Resource{{SourcePath: "config.json"}, {SourcePath: "data/seed.db", ArchiveDst: "seed.db"}},
	}

	result, err := Publish(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.ManifestDigest.IsZero())
}

func TestPublishWithParallelCompression(t *testing.T) {
	orig := readFile
	defer func() { readFile = orig }()
	readFile = func(p string) ([]byte, error) { return []byte("#!/bin/sh\necho hi\n"), nil }

	src := imagesource.NewScratchSource("amd64", "linux")
	dst := imagesource.NewTarFileDestination()

	base, _ := imageref.Parse("scratch", "")
	destRef, _ := imageref.Parse("example.com/repo:v1", "")

	req := Request{
		Base:            base,
		Destination:     destRef,
		DestRepo:        "repo",
		Source:          src,
		Sink:            dst,
		Architecture:    "amd64",
		OS:              "linux",
		Executable:      "myapp",
		CompressionJobs: 4,
	}

	result, err := Publish(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.ManifestDigest.IsZero())
}

func TestParseResourceSpecBarePath(t *testing.T) {
	r := ParseResourceSpec("config.json")
	assert.Equal(t, "config.json", r.SourcePath)
	assert.Equal(t, "", r.ArchiveDst)
}

func TestParseResourceSpecSourceDestPair(t *testing.T) {
	r := ParseResourceSpec("local/config.json:etc/config.json")
	assert.Equal(t, "local/config.json", r.SourcePath)
	assert.Equal(t, "etc/config.json", r.ArchiveDst)
}

func TestComposeConfigurationDefaultEntrypoint(t *testing.T) {
	base := &ociimage.Configuration{Architecture: "amd64", OS: "linux"}
	cfg := composeConfiguration(base, Request{Executable: "/build/myapp", Architecture: "amd64", OS: "linux"},
		nil, layerResult{diffID: digest.Of([]byte("exe"))})
	require.NotNil(t, cfg.Config)
	assert.Equal(t, []string{"/myapp"}, cfg.Config.Entrypoint)
	assert.Equal(t, "/", cfg.Config.WorkingDir)
	assert.Len(t, cfg.RootFS.DiffIDs, 1)
	assert.Len(t, cfg.History, 1)
	assert.Equal(t, "containertool", cfg.History[0].CreatedBy)
}
