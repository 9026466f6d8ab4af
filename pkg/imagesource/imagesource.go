// Package imagesource provides the polymorphic read/write endpoints the
// publish orchestrator runs against: a remote registry, the synthetic
// scratch base image, and an OCI layout written to a tar file on disk
// (spec §4.11).
package imagesource

import (
	"context"
	"fmt"

	"github.com/go-containertool/containertool/pkg/digest"
	"github.com/go-containertool/containertool/pkg/ociimage"
	"github.com/go-containertool/containertool/pkg/registry"
)

// ImageSource reads manifests, indexes, and blobs from a base image.
type ImageSource interface {
	GetBlob(ctx context.Context, repo string, dig digest.Digest) ([]byte, error)
	GetManifest(ctx context.Context, repo, ref string) (*ociimage.Manifest, error)
	GetIndex(ctx context.Context, repo, ref string) (*ociimage.Index, error)
	GetConfiguration(ctx context.Context, repo string, dig digest.Digest) (*ociimage.Configuration, error)
}

// ImageDestination writes blobs, manifests, and indexes to a publish target.
type ImageDestination interface {
	BlobExists(ctx context.Context, repo string, dig digest.Digest) (bool, error)
	PutBlob(ctx context.Context, repo, mediaType string, content []byte) (digest.Digest, error)
	PutManifest(ctx context.Context, repo, tag string, m *ociimage.Manifest) (digest.Digest, error)
	PutIndex(ctx context.Context, repo, tag string, idx *ociimage.Index) (digest.Digest, error)
}

// RemoteRegistry adapts a registry.Client to ImageSource/ImageDestination.
type RemoteRegistry struct {
	Client *registry.Client
}

func NewRemoteRegistry(c *registry.Client) *RemoteRegistry { return &RemoteRegistry{Client: c} }

func (r *RemoteRegistry) GetBlob(ctx context.Context, repo string, dig digest.Digest) ([]byte, error) {
	return r.Client.GetBlob(ctx, repo, dig)
}

func (r *RemoteRegistry) GetManifest(ctx context.Context, repo, ref string) (*ociimage.Manifest, error) {
	return r.Client.GetManifest(ctx, repo, ref)
}

func (r *RemoteRegistry) GetIndex(ctx context.Context, repo, ref string) (*ociimage.Index, error) {
	return r.Client.GetIndex(ctx, repo, ref)
}

func (r *RemoteRegistry) GetConfiguration(ctx context.Context, repo string, dig digest.Digest) (*ociimage.Configuration, error) {
	body, err := r.Client.GetBlob(ctx, repo, dig)
	if err != nil {
		return nil, err
	}
	var cfg ociimage.Configuration
	if err := ociimage.Decode(body, &cfg); err != nil {
		return nil, fmt.Errorf("imagesource: decoding configuration blob %s: %w", dig, err)
	}
	return &cfg, nil
}

func (r *RemoteRegistry) BlobExists(ctx context.Context, repo string, dig digest.Digest) (bool, error) {
	return r.Client.HeadBlob(ctx, repo, dig)
}

func (r *RemoteRegistry) PutBlob(ctx context.Context, repo, mediaType string, content []byte) (digest.Digest, error) {
	return r.Client.PutBlob(ctx, repo, content)
}

func (r *RemoteRegistry) PutManifest(ctx context.Context, repo, tag string, m *ociimage.Manifest) (digest.Digest, error) {
	return r.Client.PutManifest(ctx, repo, tag, m)
}

func (r *RemoteRegistry) PutIndex(ctx context.Context, repo, tag string, idx *ociimage.Index) (digest.Digest, error) {
	return r.Client.PutIndex(ctx, repo, tag, idx)
}

// ScratchSource is the synthetic base image used when --from scratch is
// requested: an empty manifest, a one-entry index pointing at it, and a
// minimal configuration with no layers.
type ScratchSource struct {
	Architecture string
	OS           string
}

func NewScratchSource(architecture, os string) *ScratchSource {
	return &ScratchSource{Architecture: architecture, OS: os}
}

func (s *ScratchSource) emptyManifest() ociimage.Manifest {
	m := ociimage.NewManifest()
	m.Layers = []ociimage.Descriptor{}
	cfgBody, _ := ociimage.Encode(s.configuration())
	m.Config = ociimage.Descriptor{
		MediaType: ociimage.MediaTypeImageConfig,
		Digest:    digest.Of(cfgBody),
		Size:      int64(len(cfgBody)),
	}
	return m
}

func (s *ScratchSource) configuration() *ociimage.Configuration {
	return &ociimage.Configuration{
		Architecture: s.Architecture,
		OS:           s.OS,
		RootFS:       ociimage.RootFS{Type: "layers", DiffIDs: []digest.Digest{}},
	}
}

func (s *ScratchSource) GetBlob(ctx context.Context, repo string, dig digest.Digest) ([]byte, error) {
	return []byte{}, nil
}

func (s *ScratchSource) GetManifest(ctx context.Context, repo, ref string) (*ociimage.Manifest, error) {
	m := s.emptyManifest()
	return &m, nil
}

func (s *ScratchSource) GetIndex(ctx context.Context, repo, ref string) (*ociimage.Index, error) {
	m := s.emptyManifest()
	body, err := ociimage.Encode(&m)
	if err != nil {
		return nil, err
	}
	idx := ociimage.NewIndex()
	idx.Manifests = []ociimage.Descriptor{{
		MediaType: ociimage.MediaTypeImageManifest,
		Digest:    digest.Of(body),
		Size:      int64(len(body)),
		Platform:  &ociimage.Platform{Architecture: s.Architecture, OS: s.OS},
	}}
	return &idx, nil
}

func (s *ScratchSource) GetConfiguration(ctx context.Context, repo string, dig digest.Digest) (*ociimage.Configuration, error) {
	return s.configuration(), nil
}
