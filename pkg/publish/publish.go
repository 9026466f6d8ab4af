// Package publish implements the orchestrator that layers a locally-built
// executable onto a base image and pushes the result: fetching the base
// manifest and configuration, building and uploading new layers, composing
// a new configuration and manifest, copying base layers, and uploading the
// manifest plus a wrapping index (spec §4.12).
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-containertool/containertool/pkg/digest"
	"github.com/go-containertool/containertool/pkg/gzipblob"
	"github.com/go-containertool/containertool/pkg/imageref"
	"github.com/go-containertool/containertool/pkg/imagesource"
	"github.com/go-containertool/containertool/pkg/ociimage"
	"github.com/go-containertool/containertool/pkg/registry"
	"github.com/go-containertool/containertool/pkg/tarfile"
)

// Resource is one --resources entry: a local filesystem path, archived
// either under its own basename or under an explicit destination path.
type Resource struct {
	SourcePath string
	ArchiveDst string // basename used when empty
}

// Request describes one publish operation.
type Request struct {
	Base        imageref.ImageReference
	BaseRepo    string
	Destination imageref.ImageReference
	DestRepo    string
	Source      imagesource.ImageSource
	Sink        imagesource.ImageDestination
	Architecture string
	OS          string
	Executable  string // local path to the built executable
	Entrypoint  []string
	Cmd         []string
	Resources   []Resource
	Tag         string

	// CompressionJobs selects the gzip path used for layer compression:
	// 1 (or 0) uses the deterministic single-threaded writer, >1 uses
	// gzipblob.CompressParallel. Determinism is sacrificed for throughput
	// whenever a caller asks for more than one job.
	CompressionJobs int

	// BaseClient/DestClient, when the source/sink are backed by a
	// registry.Client, enable the HEAD-then-copy base layer fast path.
	// The fast path is taken only when both are set; otherwise base layers
	// are copied through Source and Sink.
	BaseClient *registry.Client
	DestClient *registry.Client
}

// layerResult is the pair of digests and the descriptor produced for one
// uploaded layer.
type layerResult struct {
	descriptor ociimage.Descriptor
	diffID     digest.Digest
}

// Result is what a successful Publish returns.
type Result struct {
	ManifestDigest digest.Digest
	IndexDigest    digest.Digest
}

// NoSuitableBaseImage mirrors registry.NoSuitableBaseImage for callers
// that only depend on this package.
type NoSuitableBaseImage = registry.NoSuitableBaseImage

// Publish executes the nine-step pipeline described in the package doc.
func Publish(ctx context.Context, req Request) (*Result, error) {
	baseManifest, err := fetchBaseManifest(ctx, req)
	if err != nil {
		return nil, err
	}

	baseConfig, err := req.Source.GetConfiguration(ctx, req.BaseRepo, baseManifest.Config.Digest)
	if err != nil {
		return nil, fmt.Errorf("publish: fetching base configuration: %w", err)
	}

	resourceLayers, err := buildResourceLayers(ctx, req)
	if err != nil {
		return nil, err
	}

	exeLayer, err := buildExecutableLayer(ctx, req)
	if err != nil {
		return nil, err
	}

	newConfig := composeConfiguration(baseConfig, req, resourceLayers, exeLayer)
	configBody, err := ociimage.Encode(newConfig)
	if err != nil {
		return nil, fmt.Errorf("publish: encoding configuration: %w", err)
	}
	configDigest, err := req.Sink.PutBlob(ctx, req.DestRepo, ociimage.MediaTypeImageConfig, configBody)
	if err != nil {
		return nil, fmt.Errorf("publish: uploading configuration: %w", err)
	}
	if configDigest != digest.Of(configBody) {
		return nil, fmt.Errorf("publish: configuration digest mismatch after upload")
	}

	newManifest := composeManifest(baseManifest, resourceLayers, exeLayer, configDigest, int64(len(configBody)))

	if err := copyBaseLayers(ctx, req, baseManifest); err != nil {
		return nil, err
	}

	manifestDigest, err := req.Sink.PutManifest(ctx, req.DestRepo, req.Tag, &newManifest)
	if err != nil {
		return nil, fmt.Errorf("publish: uploading manifest: %w", err)
	}

	idx := ociimage.NewIndex()
	idx.Manifests = []ociimage.Descriptor{{
		MediaType: ociimage.MediaTypeImageManifest,
		Digest:    manifestDigest,
		Size:      sizeOfManifest(&newManifest),
		Platform:  &ociimage.Platform{Architecture: req.Architecture, OS: req.OS},
	}}
	indexDigest, err := req.Sink.PutIndex(ctx, req.DestRepo, req.Tag, &idx)
	if err != nil {
		return nil, fmt.Errorf("publish: uploading index: %w", err)
	}

	return &Result{ManifestDigest: manifestDigest, IndexDigest: indexDigest}, nil
}

func sizeOfManifest(m *ociimage.Manifest) int64 {
	body, err := ociimage.Encode(m)
	if err != nil {
		return 0
	}
	return int64(len(body))
}

// fetchBaseManifest implements step 1: a plain manifest fetch, or an
// index lookup narrowed to req.Architecture when the base reference is
// multi-platform.
func fetchBaseManifest(ctx context.Context, req Request) (*ociimage.Manifest, error) {
	ref := req.Base.Reference.String()
	m, err := req.Source.GetManifest(ctx, req.BaseRepo, ref)
	if err == nil {
		return m, nil
	}

	idx, idxErr := req.Source.GetIndex(ctx, req.BaseRepo, ref)
	if idxErr != nil {
		return nil, fmt.Errorf("publish: fetching base manifest: %w", err)
	}

	for _, desc := range idx.Manifests {
		if desc.Platform != nil && desc.Platform.Architecture == req.Architecture {
			return req.Source.GetManifest(ctx, req.BaseRepo, desc.Digest.String())
		}
	}
	return nil, &registry.NoSuitableBaseImage{Architecture: req.Architecture}
}

// buildResourceLayers implements step 3, uploading resource archives in
// parallel since their digests (and thus upload targets) are disjoint.
func buildResourceLayers(ctx context.Context, req Request) ([]layerResult, error) {
	results := make([]layerResult, len(req.Resources))
	g, gctx := errgroup.WithContext(ctx)
	for i, res := range req.Resources {
		i, res := i, res
		g.Go(func() error {
			dst := res.ArchiveDst
			if dst == "" {
				dst = path.Base(res.SourcePath)
			}
			lr, err := buildAndUploadLayer(gctx, req, req.CompressionJobs, dst, res.SourcePath)
			if err != nil {
				return fmt.Errorf("publish: resource %q: %w", res.SourcePath, err)
			}
			results[i] = lr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// buildExecutableLayer implements step 4.
func buildExecutableLayer(ctx context.Context, req Request) (layerResult, error) {
	return buildAndUploadLayer(ctx, req, req.CompressionJobs, path.Base(req.Executable), req.Executable)
}

func buildAndUploadLayer(ctx context.Context, req Request, jobs int, archiveName, sourcePath string) (layerResult, error) {
	content, err := readFile(sourcePath)
	if err != nil {
		return layerResult{}, err
	}

	builder := tarfile.New()
	if err := builder.AddFile(archiveName, content); err != nil {
		return layerResult{}, fmt.Errorf("archiving %q: %w", archiveName, err)
	}
	tarBytes := builder.Bytes()
	diffID := digest.Of(tarBytes)

	var compressed []byte
	if jobs > 1 {
		compressed, err = gzipblob.CompressParallel(tarBytes, jobs)
	} else {
		compressed, err = gzipblob.Compress(tarBytes)
	}
	if err != nil {
		return layerResult{}, fmt.Errorf("compressing layer: %w", err)
	}

	uploaded, err := req.Sink.PutBlob(ctx, req.DestRepo, ociimage.MediaTypeLayerGzip, compressed)
	if err != nil {
		return layerResult{}, fmt.Errorf("uploading layer: %w", err)
	}
	if uploaded != digest.Of(compressed) {
		return layerResult{}, fmt.Errorf("layer digest mismatch after upload")
	}

	return layerResult{
		descriptor: ociimage.Descriptor{
			MediaType: ociimage.MediaTypeLayerGzip,
			Digest:    uploaded,
			Size:      int64(len(compressed)),
		},
		diffID: diffID,
	}, nil
}

// composeConfiguration implements step 5.
func composeConfiguration(base *ociimage.Configuration, req Request, resources []layerResult, exe layerResult) *ociimage.Configuration {
	cfg := *base
	if cfg.Config == nil {
		inner := ociimage.Config{}
		cfg.Config = &inner
	} else {
		inner := *base.Config
		cfg.Config = &inner
	}

	entrypoint := req.Entrypoint
	if len(entrypoint) == 0 {
		entrypoint = []string{"/" + path.Base(req.Executable)}
	}
	cfg.Config.Entrypoint = entrypoint
	cfg.Config.Cmd = req.Cmd
	cfg.Config.WorkingDir = "/"

	cfg.Architecture = req.Architecture
	cfg.OS = req.OS
	created := ociimage.NewTime(epoch())
	cfg.Created = &created

	diffIDs := append([]digest.Digest{}, base.RootFS.DiffIDs...)
	for _, r := range resources {
		diffIDs = append(diffIDs, r.diffID)
	}
	diffIDs = append(diffIDs, exe.diffID)
	cfg.RootFS = ociimage.RootFS{Type: "layers", DiffIDs: diffIDs}

	cfg.History = append(append([]ociimage.History{}, base.History...), ociimage.History{
		Created:   &created,
		CreatedBy: "containertool",
	})

	return &cfg
}

// composeManifest implements step 6.
func composeManifest(base *ociimage.Manifest, resources []layerResult, exe layerResult, configDigest digest.Digest, configSize int64) ociimage.Manifest {
	m := ociimage.NewManifest()
	layers := append([]ociimage.Descriptor{}, base.Layers...)
	for _, r := range resources {
		layers = append(layers, r.descriptor)
	}
	layers = append(layers, exe.descriptor)
	m.Layers = layers
	m.Config = ociimage.Descriptor{
		MediaType: ociimage.MediaTypeImageConfig,
		Digest:    configDigest,
		Size:      configSize,
	}
	return m
}

// copyBaseLayers implements step 7, using the HEAD-then-copy registry
// fast path when both endpoints are backed by a registry.Client, and
// falling back to a generic get-then-put over the ImageSource/
// ImageDestination capability sets otherwise (e.g. publishing to a tar
// file, or from the scratch source).
func copyBaseLayers(ctx context.Context, req Request, base *ociimage.Manifest) error {
	if req.BaseClient != nil && req.DestClient != nil {
		g, gctx := errgroup.WithContext(ctx)
		for _, layer := range base.Layers {
			layer := layer
			g.Go(func() error {
				return req.DestClient.CopyBlob(gctx, req.BaseClient, req.DestRepo, layer)
			})
		}
		return g.Wait()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, layer := range base.Layers {
		layer := layer
		g.Go(func() error {
			exists, err := req.Sink.BlobExists(gctx, req.DestRepo, layer.Digest)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			content, err := req.Source.GetBlob(gctx, req.BaseRepo, layer.Digest)
			if err != nil {
				return fmt.Errorf("publish: fetching base layer %s: %w", layer.Digest, err)
			}
			if digest.Of(content) != layer.Digest {
				return fmt.Errorf("publish: base layer %s failed digest verification on fetch", layer.Digest)
			}
			uploaded, err := req.Sink.PutBlob(gctx, req.DestRepo, layer.MediaType, content)
			if err != nil {
				return fmt.Errorf("publish: uploading base layer %s: %w", layer.Digest, err)
			}
			if uploaded != layer.Digest {
				return fmt.Errorf("publish: base layer %s failed digest verification on upload", layer.Digest)
			}
			return nil
		})
	}
	return g.Wait()
}

// readFile is a var so tests can substitute an in-memory filesystem
// without touching disk.
var readFile = func(p string) ([]byte, error) {
	return os.ReadFile(p)
}

func epoch() time.Time { return time.Unix(0, 0) }

func splitResource(spec string) Resource {
	if idx := strings.IndexByte(spec, ':'); idx >= 0 {
		return Resource{SourcePath: spec[:idx], ArchiveDst: spec[idx+1:]}
	}
	return Resource{SourcePath: spec}
}

// ParseResourceSpec parses one --resources flag value, either a bare path
// (archived under its basename) or a "SRC:DST" pair.
func ParseResourceSpec(spec string) Resource { return splitResource(spec) }
