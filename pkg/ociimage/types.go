// Package ociimage models the OCI image manifest / index / configuration
// graph and the canonical JSON wire encoding digests are computed over.
//
// Field layout mirrors github.com/opencontainers/image-spec's specs-go/v1
// package, whose media-type constants and schemaVersion convention this
// package reuses directly. The structs themselves are hand-rolled rather
// than aliased from image-spec so that digest (pkg/digest.Digest) and
// timestamp (Time, second precision) fields round-trip exactly the way
// the canonical codec in json.go requires — see DESIGN.md.
package ociimage

import (
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/go-containertool/containertool/pkg/digest"
)

const SchemaVersion = 2

// Media types recognized on the wire, reusing image-spec's constants
// where OCI defines one and adding the legacy Docker equivalents this
// tool must also accept (spec §6).
const (
	MediaTypeImageManifest = ispec.MediaTypeImageManifest
	MediaTypeImageIndex    = ispec.MediaTypeImageIndex
	MediaTypeImageConfig   = ispec.MediaTypeImageConfig
	MediaTypeLayerGzip     = ispec.MediaTypeImageLayerGzip
	MediaTypeLayerTar      = ispec.MediaTypeImageLayer

	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// Descriptor is the only legal way one graph object refers to another.
type Descriptor struct {
	MediaType   string            `json:"mediaType"`
	Digest      digest.Digest     `json:"digest"`
	Size        int64             `json:"size"`
	URLs        []string          `json:"urls,omitempty"`
	Platform    *Platform         `json:"platform,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Platform narrows a Descriptor (normally inside an Index) to one CPU
// architecture / OS combination.
type Platform struct {
	Architecture string   `json:"architecture"`
	OS           string   `json:"os"`
	OSVersion    string   `json:"os.version,omitempty"`
	OSFeatures   []string `json:"os.features,omitempty"`
	Variant      string   `json:"variant,omitempty"`
}

// Manifest lists one image's configuration and layers. Layer order is
// significant: index 0 is the base layer, the last entry is the top layer.
type Manifest struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaType     string            `json:"mediaType,omitempty"`
	Config        Descriptor        `json:"config"`
	Layers        []Descriptor      `json:"layers"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

func NewManifest() Manifest {
	return Manifest{SchemaVersion: SchemaVersion, MediaType: MediaTypeImageManifest}
}

// Index is a list of platform-specific manifest descriptors, used for
// multi-platform images.
type Index struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaType     string            `json:"mediaType,omitempty"`
	Manifests     []Descriptor      `json:"manifests"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

func NewIndex() Index {
	return Index{SchemaVersion: SchemaVersion, MediaType: MediaTypeImageIndex}
}

// RootFS names the layer stack that makes up a configuration's filesystem.
// DiffIDs are digests of the *uncompressed* layer tarballs, in the same
// order as the owning Manifest's Layers.
type RootFS struct {
	Type    string          `json:"type"`
	DiffIDs []digest.Digest `json:"diff_ids"`
}

// Config is the container runtime configuration block. Field names are
// capitalized because the OCI/Docker wire format requires that casing.
type Config struct {
	User         string            `json:"User,omitempty"`
	ExposedPorts map[string]Empty  `json:"ExposedPorts,omitempty"`
	Env          []string          `json:"Env,omitempty"`
	Entrypoint   []string          `json:"Entrypoint,omitempty"`
	Cmd          []string          `json:"Cmd,omitempty"`
	Volumes      map[string]Empty  `json:"Volumes,omitempty"`
	WorkingDir   string            `json:"WorkingDir,omitempty"`
	Labels       map[string]string `json:"Labels,omitempty"`
	StopSignal   string            `json:"StopSignal,omitempty"`
}

// Empty is the set-as-map idiom's value type: an empty JSON object.
type Empty struct{}

// History records one build step that produced a layer (or not, for
// metadata-only steps).
type History struct {
	Created    *Time  `json:"created,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
	Author     string `json:"author,omitempty"`
	Comment    string `json:"comment,omitempty"`
	EmptyLayer bool   `json:"empty_layer,omitempty"`
}

// Configuration is the image config blob referenced by a Manifest's
// Config descriptor.
type Configuration struct {
	Created      *Time     `json:"created,omitempty"`
	Author       string    `json:"author,omitempty"`
	Architecture string    `json:"architecture"`
	OS           string    `json:"os"`
	Config       *Config   `json:"config,omitempty"`
	RootFS       RootFS    `json:"rootfs"`
	History      []History `json:"history,omitempty"`
}

// Tags is the decoded body of a GET /v2/<repo>/tags/list response.
type Tags struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}
