// Package registry implements the Distribution-Spec operations
// (checking connectivity, moving blobs and manifests, listing tags) on
// top of pkg/transport and pkg/regauth (spec §4.10).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-containertool/containertool/pkg/digest"
	"github.com/go-containertool/containertool/pkg/ociimage"
	"github.com/go-containertool/containertool/pkg/regauth"
	"github.com/go-containertool/containertool/pkg/transport"
)

const (
	ociManifestAccept = "application/vnd.oci.image.manifest.v1+json"
	ociIndexAccept    = "application/vnd.oci.image.index.v1+json"
	dockerManifest    = "application/vnd.docker.distribution.manifest.v2+json"
	dockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	octetStream       = "application/octet-stream"
)

// UnexpectedRegistryResponse is raised when an error status could not be
// decoded as DistributionErrors.
type UnexpectedRegistryResponse struct {
	Status int
	Body   []byte
}

func (e *UnexpectedRegistryResponse) Error() string {
	return fmt.Sprintf("registry: unexpected response, status %d: %s", e.Status, string(e.Body))
}

// DigestMismatchError is raised when a registry echoes a Docker-Content-Digest
// that disagrees with the client-computed digest.
type DigestMismatchError struct {
	Expected digest.Digest
	Server   digest.Digest
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("registry: digest mismatch: expected %s, server reported %s", e.Expected, e.Server)
}

// NoSuitableBaseImage is raised when an index has no entry matching the
// requested platform architecture.
type NoSuitableBaseImage struct{ Architecture string }

func (e *NoSuitableBaseImage) Error() string {
	return fmt.Sprintf("registry: no base image entry for architecture %q", e.Architecture)
}

// Client is a Distribution-Spec client bound to a single registry host.
type Client struct {
	BaseURL   string
	transport *transport.Transport
	auth      *regauth.Handler
	Logger    BlobLogger
}

// BlobLogger receives per-blob diagnostics under -v/--verbose;
// *diagnostics.Logger satisfies this. A nil Logger disables diagnostics.
type BlobLogger interface {
	BlobUpload(digest string, size int64, elapsed time.Duration)
	BlobDownload(digest string, size int64, elapsed time.Duration)
}

// New constructs a Client for host, verifying connectivity with GET /v2/
// and caching the returned auth challenge. host is a bare registry
// authority (e.g. "registry.example.com" or "localhost:5000").
func New(ctx context.Context, tr *transport.Transport, host string, insecure bool) (*Client, error) {
	scheme := "https"
	if insecure || isLocal(host) {
		scheme = "http"
	}
	base := scheme + "://" + host

	resp, err := tr.Do(ctx, transport.Request{Method: http.MethodGet, URL: base + "/v2/"}, []int{http.StatusOK, http.StatusUnauthorized}, nil)
	var challenge regauth.Challenge
	if err != nil {
		var ac *transport.AuthChallengeError
		if asType(err, &ac) {
			challenge = regauth.ParseChallenge(ac.WWWAuthenticate)
		} else {
			return nil, fmt.Errorf("registry: connecting to %s: %w", base, err)
		}
	} else if resp.StatusCode == http.StatusUnauthorized {
		challenge = regauth.ParseChallenge(resp.Header.Get("WWW-Authenticate"))
	}

	return &Client{
		BaseURL:   base,
		transport: tr,
		auth:      regauth.NewHandler(tr, base, challenge),
	}, nil
}

// SetCredentials configures static fallback credentials and an optional
// provider consulted first (e.g. a netrc lookup).
func (c *Client) SetCredentials(user, password string, provider regauth.CredentialProvider) {
	c.auth.DefaultUser = user
	c.auth.DefaultPassword = password
	c.auth.Provider = provider
}

func isLocal(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i >= 0 && !strings.Contains(h, "]") {
		h = h[:i]
	}
	h = strings.Trim(h, "[]")
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}

// do sends req with auth attached, retrying once if the registry responds
// with a fresh challenge.
func (c *Client) do(ctx context.Context, req transport.Request, repo string, actions []string, expected []int, accept []string) (*transport.Response, error) {
	if err := c.auth.Authorize(ctx, &req, repo, actions); err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, req, expected, accept)
	if err == nil {
		return resp, nil
	}
	if c.auth.HandleUnauthorized(err) {
		if aerr := c.auth.Authorize(ctx, &req, repo, actions); aerr != nil {
			return nil, aerr
		}
		return c.transport.Do(ctx, req, expected, accept)
	}
	return nil, err
}

func (c *Client) blobURL(repo, dig string) string {
	return fmt.Sprintf("%s/v2/%s/blobs/%s", c.BaseURL, repo, dig)
}

func (c *Client) manifestURL(repo, ref string) string {
	return fmt.Sprintf("%s/v2/%s/manifests/%s", c.BaseURL, repo, ref)
}

// HeadBlob reports whether digest dig already exists in repo.
func (c *Client) HeadBlob(ctx context.Context, repo string, dig digest.Digest) (bool, error) {
	_, err := c.do(ctx, transport.Request{Method: http.MethodHead, URL: c.blobURL(repo, dig.String())}, repo, []string{"pull"}, []int{http.StatusOK}, nil)
	if err == nil {
		return true, nil
	}
	var unexpected *transport.UnexpectedStatusError
	if asType(err, &unexpected) && unexpected.Status == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// GetBlob downloads the blob content at dig.
func (c *Client) GetBlob(ctx context.Context, repo string, dig digest.Digest) ([]byte, error) {
	start := time.Now()
	resp, err := c.do(ctx, transport.Request{Method: http.MethodGet, URL: c.blobURL(repo, dig.String())}, repo, []string{"pull"}, []int{http.StatusOK}, []string{octetStream})
	if err != nil {
		return nil, decodeError(err)
	}
	if c.Logger != nil {
		c.Logger.BlobDownload(dig.String(), int64(len(resp.Body)), time.Since(start))
	}
	return resp.Body, nil
}

// PutBlob uploads content via the two-shot POST-then-PUT flow, verifying
// the registry-echoed digest against the client-computed one.
func (c *Client) PutBlob(ctx context.Context, repo string, content []byte) (digest.Digest, error) {
	start := time.Now()
	dig := digest.Of(content)

	startResp, err := c.do(ctx, transport.Request{Method: http.MethodPost, URL: fmt.Sprintf("%s/v2/%s/blobs/uploads/", c.BaseURL, repo)}, repo, []string{"push", "pull"}, []int{http.StatusAccepted}, nil)
	if err != nil {
		return digest.Digest{}, decodeError(err)
	}

	location := startResp.Header.Get("Location")
	if location == "" {
		return digest.Digest{}, &transport.MissingResponseHeaderError{Name: "Location"}
	}
	putURL, err := appendDigestQuery(c.BaseURL, location, dig.String())
	if err != nil {
		return digest.Digest{}, err
	}

	putResp, err := c.do(ctx, transport.Request{
		Method: http.MethodPut,
		URL:    putURL,
		Header: http.Header{"Content-Type": []string{octetStream}},
		Body:   content,
	}, repo, []string{"push", "pull"}, []int{http.StatusCreated}, nil)
	if err != nil {
		return digest.Digest{}, decodeError(err)
	}

	if server := putResp.Header.Get("Docker-Content-Digest"); server != "" {
		serverDigest, err := digest.Parse(server)
		if err != nil {
			return digest.Digest{}, fmt.Errorf("registry: parsing Docker-Content-Digest: %w", err)
		}
		if serverDigest != dig {
			return digest.Digest{}, &DigestMismatchError{Expected: dig, Server: serverDigest}
		}
	}

	if c.Logger != nil {
		c.Logger.BlobUpload(dig.String(), int64(len(content)), time.Since(start))
	}

	return dig, nil
}

// appendDigestQuery resolves location against base and appends
// ?digest=<d> without disturbing any query parameters already present.
func appendDigestQuery(base, location, dig string) (string, error) {
	resolvedBase, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("registry: parsing base URL: %w", err)
	}
	loc, err := resolvedBase.Parse(location)
	if err != nil {
		return "", fmt.Errorf("registry: parsing upload Location: %w", err)
	}
	q := loc.Query()
	q.Add("digest", dig)
	loc.RawQuery = q.Encode()
	return loc.String(), nil
}

// GetManifest fetches a manifest by tag or digest, negotiating OCI and
// legacy Docker media types.
func (c *Client) GetManifest(ctx context.Context, repo, ref string) (*ociimage.Manifest, error) {
	resp, err := c.do(ctx, transport.Request{Method: http.MethodGet, URL: c.manifestURL(repo, ref)}, repo, []string{"pull"},
		[]int{http.StatusOK}, []string{ociManifestAccept, dockerManifest})
	if err != nil {
		return nil, decodeError(err)
	}
	var m ociimage.Manifest
	if err := ociimage.Decode(resp.Body, &m); err != nil {
		return nil, fmt.Errorf("registry: decoding manifest: %w", err)
	}
	return &m, nil
}

// GetIndex fetches a multi-platform index by tag or digest.
func (c *Client) GetIndex(ctx context.Context, repo, ref string) (*ociimage.Index, error) {
	resp, err := c.do(ctx, transport.Request{Method: http.MethodGet, URL: c.manifestURL(repo, ref)}, repo, []string{"pull"},
		[]int{http.StatusOK}, []string{ociIndexAccept, dockerManifestList})
	if err != nil {
		return nil, decodeError(err)
	}
	var idx ociimage.Index
	if err := ociimage.Decode(resp.Body, &idx); err != nil {
		return nil, fmt.Errorf("registry: decoding index: %w", err)
	}
	return &idx, nil
}

// GetManifestOrIndex fetches /v2/<repo>/manifests/<ref> and decodes it as
// a manifest, falling back to index decoding when it has a manifests
// array instead of layers (spec's "try manifest, fall back to index").
func (c *Client) GetManifestOrIndex(ctx context.Context, repo, ref string) (*ociimage.Manifest, *ociimage.Index, error) {
	resp, err := c.do(ctx, transport.Request{Method: http.MethodGet, URL: c.manifestURL(repo, ref)}, repo, []string{"pull"},
		[]int{http.StatusOK}, []string{ociManifestAccept, ociIndexAccept, dockerManifest, dockerManifestList})
	if err != nil {
		return nil, nil, decodeError(err)
	}
	var m ociimage.Manifest
	if err := ociimage.Decode(resp.Body, &m); err == nil && !m.Config.Digest.IsZero() {
		return &m, nil, nil
	}
	var idx ociimage.Index
	if err := ociimage.Decode(resp.Body, &idx); err != nil {
		return nil, nil, fmt.Errorf("registry: response was neither a manifest nor an index: %w", err)
	}
	return nil, &idx, nil
}

// PutManifest uploads a manifest, addressed by tag if non-empty,
// otherwise by its own digest.
func (c *Client) PutManifest(ctx context.Context, repo, tag string, m *ociimage.Manifest) (digest.Digest, error) {
	body, err := ociimage.Encode(m)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("registry: encoding manifest: %w", err)
	}
	dig := digest.Of(body)
	ref := tag
	if ref == "" {
		ref = dig.String()
	}
	mediaType := m.MediaType
	if mediaType == "" {
		mediaType = ociManifestAccept
	}
	_, err = c.do(ctx, transport.Request{
		Method: http.MethodPut,
		URL:    c.manifestURL(repo, ref),
		Header: http.Header{"Content-Type": []string{mediaType}},
		Body:   body,
	}, repo, []string{"push", "pull"}, []int{http.StatusCreated}, nil)
	if err != nil {
		return digest.Digest{}, decodeError(err)
	}
	return dig, nil
}

// PutIndex uploads an index, addressed by tag if non-empty, otherwise by
// its own digest.
func (c *Client) PutIndex(ctx context.Context, repo, tag string, idx *ociimage.Index) (digest.Digest, error) {
	body, err := ociimage.Encode(idx)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("registry: encoding index: %w", err)
	}
	dig := digest.Of(body)
	ref := tag
	if ref == "" {
		ref = dig.String()
	}
	mediaType := idx.MediaType
	if mediaType == "" {
		mediaType = ociIndexAccept
	}
	_, err = c.do(ctx, transport.Request{
		Method: http.MethodPut,
		URL:    c.manifestURL(repo, ref),
		Header: http.Header{"Content-Type": []string{mediaType}},
		Body:   body,
	}, repo, []string{"push", "pull"}, []int{http.StatusCreated}, nil)
	if err != nil {
		return digest.Digest{}, decodeError(err)
	}
	return dig, nil
}

// ListTags lists every tag in repo.
func (c *Client) ListTags(ctx context.Context, repo string) ([]string, error) {
	resp, err := c.do(ctx, transport.Request{Method: http.MethodGet, URL: fmt.Sprintf("%s/v2/%s/tags/list", c.BaseURL, repo)}, repo, []string{"pull"}, []int{http.StatusOK}, nil)
	if err != nil {
		return nil, decodeError(err)
	}
	var tl ociimage.Tags
	if err := json.Unmarshal(resp.Body, &tl); err != nil {
		return nil, fmt.Errorf("registry: decoding tags list: %w", err)
	}
	return tl.Tags, nil
}

// CopyBlob copies a blob identified by desc from src to repo on this
// client, short-circuiting with HEAD if the destination already has it.
func (c *Client) CopyBlob(ctx context.Context, src *Client, repo string, desc ociimage.Descriptor) error {
	exists, err := c.HeadBlob(ctx, repo, desc.Digest)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	content, err := src.GetBlob(ctx, repo, desc.Digest)
	if err != nil {
		return fmt.Errorf("registry: fetching blob %s from source: %w", desc.Digest, err)
	}
	if digest.Of(content) != desc.Digest {
		return &DigestMismatchError{Expected: desc.Digest, Server: digest.Of(content)}
	}
	uploaded, err := c.PutBlob(ctx, repo, content)
	if err != nil {
		return fmt.Errorf("registry: uploading copied blob %s: %w", desc.Digest, err)
	}
	if uploaded != desc.Digest {
		return &DigestMismatchError{Expected: desc.Digest, Server: uploaded}
	}
	return nil
}

// decodeError converts an UnexpectedStatusError that carries a
// decodable distribution error body into an *ociimage.DistributionErrors,
// falling back to UnexpectedRegistryResponse.
func decodeError(err error) error {
	var unexpected *transport.UnexpectedStatusError
	if !asType(err, &unexpected) || len(unexpected.Body) == 0 {
		return err
	}
	var distErrs ociimage.DistributionErrors
	if jsonErr := json.Unmarshal(unexpected.Body, &distErrs); jsonErr != nil || len(distErrs.Errors) == 0 {
		return &UnexpectedRegistryResponse{Status: unexpected.Status, Body: unexpected.Body}
	}
	return &distErrs
}

func asType[T any](err error, target *T) bool {
	type causer interface{ Unwrap() error }
	for err != nil {
		if v, ok := err.(T); ok {
			*target = v
			return true
		}
		u, ok := err.(causer)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
