// Package imageref parses and validates image reference strings of the
// form [registry/]repository[:tag|@digest], following the host-heuristic
// and docker.io/scratch special cases used across the registry ecosystem.
package imageref

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-containertool/containertool/pkg/digest"
)

const (
	DefaultTag      = "latest"
	dockerHub       = "docker.io"
	dockerHubCanon  = "index.docker.io"
	dockerLibraryNS = "library"
	Scratch         = "scratch"
)

var (
	repositoryRe = regexp.MustCompile(`^[a-z0-9]+((\.|_|__|-+)[a-z0-9]+)*(/[a-z0-9]+((\.|_|__|-+)[a-z0-9]+)*)*$`)
	tagRe        = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)
)

// Repository is a validated, lowercase repository path.
type Repository string

// Tag is a human-readable, mutable label on a repository.
type Tag string

// Reference is the tagged union of Tag and Digest that identifies one
// image within a repository.
type Reference struct {
	Tag    Tag
	Digest digest.Digest
	// byDigest is true when this Reference was constructed from a digest
	// rather than a tag, even for the zero Tag value.
	byDigest bool
}

func TagReference(t Tag) Reference        { return Reference{Tag: t} }
func DigestReference(d digest.Digest) Reference { return Reference{Digest: d, byDigest: true} }

func (r Reference) IsDigest() bool { return r.byDigest }

func (r Reference) String() string {
	if r.byDigest {
		return r.Digest.String()
	}
	if r.Tag == "" {
		return DefaultTag
	}
	return string(r.Tag)
}

// ImageReference is the canonical {registry, repository, reference} value.
type ImageReference struct {
	Registry   string
	Repository Repository
	Reference  Reference
	// scratch marks the synthetic empty base image; it has no registry
	// and disables source fetching.
	scratch bool
}

func (r ImageReference) IsScratch() bool { return r.scratch }

// String renders "registry/repo:tag" or "registry/repo@digest"; the
// scratch reference renders as "scratch:latest".
func (r ImageReference) String() string {
	if r.scratch {
		return Scratch + ":" + DefaultTag
	}
	sep := ":"
	if r.Reference.IsDigest() {
		sep = "@"
	}
	return fmt.Sprintf("%s/%s%s%s", r.Registry, r.Repository, sep, r.Reference.String())
}

// EmptyStringError reports an attempt to parse an empty reference string.
type EmptyStringError struct{}

func (EmptyStringError) Error() string { return "imageref: reference string is empty" }

// ContainsUppercaseError reports a reference containing uppercase letters,
// which the repository grammar forbids.
type ContainsUppercaseError struct{ Raw string }

func (e *ContainsUppercaseError) Error() string {
	return fmt.Sprintf("imageref: %q contains uppercase characters", e.Raw)
}

// InvalidReferenceFormatError reports a reference that fails the grammar.
type InvalidReferenceFormatError struct{ Raw string }

func (e *InvalidReferenceFormatError) Error() string {
	return fmt.Sprintf("imageref: invalid reference format %q", e.Raw)
}

// Parse splits raw into registry/repository/reference. defaultRegistry is
// used when raw names no host component at all.
func Parse(raw, defaultRegistry string) (ImageReference, error) {
	if raw == "" {
		return ImageReference{}, EmptyStringError{}
	}
	if raw == Scratch {
		return ImageReference{scratch: true, Reference: TagReference(DefaultTag)}, nil
	}
	for _, r := range raw {
		if r >= 'A' && r <= 'Z' {
			return ImageReference{}, &ContainsUppercaseError{Raw: raw}
		}
	}

	registry, rest := splitHost(raw, defaultRegistry)

	repoPart, refPart, isDigest := splitReference(rest)
	if repoPart == "" {
		return ImageReference{}, &InvalidReferenceFormatError{Raw: raw}
	}

	if registry == dockerHub {
		registry = dockerHubCanon
	}
	if registry == dockerHubCanon && !strings.Contains(repoPart, "/") {
		repoPart = dockerLibraryNS + "/" + repoPart
	}

	repo, err := ParseRepository(repoPart)
	if err != nil {
		return ImageReference{}, &InvalidReferenceFormatError{Raw: repoPart}
	}

	var reference Reference
	if isDigest {
		d, err := ParseDigestString(refPart)
		if err != nil {
			return ImageReference{}, &InvalidReferenceFormatError{Raw: raw}
		}
		reference = DigestReference(d)
	} else if refPart == "" {
		reference = TagReference(DefaultTag)
	} else {
		tag, err := ParseTag(refPart)
		if err != nil {
			return ImageReference{}, &InvalidReferenceFormatError{Raw: raw}
		}
		reference = TagReference(tag)
	}

	return ImageReference{Registry: registry, Repository: repo, Reference: reference}, nil
}

// splitHost splits "maybe-host/rest" on the first "/" when the prefix looks
// like a host (contains "." or ":", or is exactly "localhost").
func splitHost(raw, defaultRegistry string) (registry, rest string) {
	idx := strings.IndexByte(raw, '/')
	if idx < 0 {
		return defaultRegistry, raw
	}
	prefix := raw[:idx]
	if prefix == "localhost" || strings.ContainsAny(prefix, ".:") {
		return prefix, raw[idx+1:]
	}
	return defaultRegistry, raw
}

// splitReference separates the repository path from a trailing "@digest"
// or ":tag" suffix. A digest takes precedence if both separators could
// plausibly apply (tags cannot contain "@").
func splitReference(s string) (repo, ref string, isDigest bool) {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		return s[:at], s[at+1:], true
	}
	// Repository segments never contain ':', so the first colon left
	// after host-splitting is the tag marker.
	if c := strings.IndexByte(s, ':'); c >= 0 {
		return s[:c], s[c+1:], false
	}
	return s, "", false
}

// ParseRepository validates a repository path.
func ParseRepository(s string) (Repository, error) {
	if s == "" {
		return "", EmptyStringError{}
	}
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			return "", &ContainsUppercaseError{Raw: s}
		}
	}
	if !repositoryRe.MatchString(s) {
		return "", &InvalidReferenceFormatError{Raw: s}
	}
	return Repository(s), nil
}

// ParseTag validates a tag string against the OCI tag grammar.
func ParseTag(s string) (Tag, error) {
	if !tagRe.MatchString(s) {
		return "", &InvalidReferenceFormatError{Raw: s}
	}
	return Tag(s), nil
}

// ParseDigestString validates a "<algo>:<hex>" digest string.
func ParseDigestString(s string) (digest.Digest, error) {
	return digest.Parse(s)
}
