package imagesource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-containertool/containertool/pkg/digest"
	"github.com/go-containertool/containertool/pkg/ociimage"
	"github.com/go-containertool/containertool/pkg/tarfile"
)

// TarFileDestination writes an OCI image layout to a tar archive on disk:
// an oci-layout marker, every blob content-addressed under
// blobs/<algo>/<hex>, and the index both there and at the archive root.
type TarFileDestination struct {
	mu        sync.Mutex
	builder   *tarfile.Builder
	blobs     map[string][]byte
	indexBody []byte
}

func NewTarFileDestination() *TarFileDestination {
	return &TarFileDestination{builder: tarfile.New(), blobs: make(map[string][]byte)}
}

func (t *TarFileDestination) BlobExists(ctx context.Context, repo string, dig digest.Digest) (bool, error) {
	return false, nil
}

func (t *TarFileDestination) PutBlob(ctx context.Context, repo, mediaType string, content []byte) (digest.Digest, error) {
	dig := digest.Of(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blobs[dig.String()] = content
	return dig, nil
}

func (t *TarFileDestination) PutManifest(ctx context.Context, repo, tag string, m *ociimage.Manifest) (digest.Digest, error) {
	body, err := ociimage.Encode(m)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("imagesource: encoding manifest: %w", err)
	}
	dig := digest.Of(body)
	t.mu.Lock()
	t.blobs[dig.String()] = body
	t.mu.Unlock()
	return dig, nil
}

func (t *TarFileDestination) PutIndex(ctx context.Context, repo, tag string, idx *ociimage.Index) (digest.Digest, error) {
	body, err := ociimage.Encode(idx)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("imagesource: encoding index: %w", err)
	}
	dig := digest.Of(body)
	t.mu.Lock()
	t.blobs[dig.String()] = body
	t.indexBody = body
	t.mu.Unlock()
	return dig, nil
}

// Bytes materializes the OCI layout tar archive. The caller must have
// invoked PutIndex at least once so index.json has content.
func (t *TarFileDestination) Bytes() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.builder.AddFile("oci-layout", []byte(`{"imageLayoutVersion":"1.0.0"}`)); err != nil {
		return nil, err
	}

	digests := make([]string, 0, len(t.blobs))
	for hexDigest := range t.blobs {
		digests = append(digests, hexDigest)
	}
	sort.Strings(digests)

	for _, hexDigest := range digests {
		d, err := digest.Parse(hexDigest)
		if err != nil {
			return nil, fmt.Errorf("imagesource: invalid blob digest %q: %w", hexDigest, err)
		}
		path := fmt.Sprintf("blobs/%s/%s", d.Algorithm, d.Hex)
		if err := t.builder.AddFile(path, t.blobs[hexDigest]); err != nil {
			return nil, err
		}
	}

	if t.indexBody != nil {
		if err := t.builder.AddFile("index.json", t.indexBody); err != nil {
			return nil, err
		}
	}

	return t.builder.Bytes(), nil
}
