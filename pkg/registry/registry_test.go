package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-containertool/containertool/pkg/digest"
	"github.com/go-containertool/containertool/pkg/ociimage"
	"github.com/go-containertool/containertool/pkg/transport"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	host := srv.Listener.Addr().String()
	c, err := New(context.Background(), transport.New(nil), host, true)
	require.NoError(t, err)
	return c
}

func TestConstructionOnOpenRegistryUsesHTTPBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	assert.Equal(t, "http://"+srv.Listener.Addr().String(), c.BaseURL)
}

func TestPutBlobTwoShotUploadAppendsDigestQuery(t *testing.T) {
	var sawPutURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/{$}", apiVersionOK)
	mux.HandleFunc("/v2/foo/blobs/uploads/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/v2/foo/blobs/uploads/session123?extra=1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/v2/foo/blobs/uploads/session123", func(w http.ResponseWriter, r *http.Request) {
		sawPutURL = r.URL.String()
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		w.Header().Set("Docker-Content-Digest", digest.Of(body).String())
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv)
	dig, err := c.PutBlob(context.Background(), "foo", []byte("hello layer"))
	require.NoError(t, err)
	assert.Equal(t, digest.Of([]byte("hello layer")), dig)
	assert.Contains(t, sawPutURL, "extra=1")
	assert.Contains(t, sawPutURL, "digest=")
}

func TestPutBlobDigestMismatchFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/{$}", apiVersionOK)
	mux.HandleFunc("/v2/foo/blobs/uploads/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/v2/foo/blobs/uploads/s1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/v2/foo/blobs/uploads/s1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Docker-Content-Digest", "sha256:"+sixtyFourZeros())
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.PutBlob(context.Background(), "foo", []byte("payload"))
	require.Error(t, err)
	var mismatch *DigestMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestHeadBlobMissingReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/" {
			apiVersionOK(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	exists, err := c.HeadBlob(context.Background(), "foo", digest.Of([]byte("x")))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCopyBlobSkipsWhenDestinationHasIt(t *testing.T) {
	var sourceCalled bool
	sourceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The GET /v2/ made while constructing the client is not a blob fetch.
		if r.URL.Path != "/v2/" {
			sourceCalled = true
		}
	}))
	defer sourceSrv.Close()

	destSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer destSrv.Close()

	src := newTestClient(t, sourceSrv)
	dst := newTestClient(t, destSrv)

	desc := ociimage.Descriptor{Digest: digest.Of([]byte("layer")), Size: 5}
	require.NoError(t, dst.CopyBlob(context.Background(), src, "foo", desc))
	assert.False(t, sourceCalled)
}

func TestCopyBlobFetchesAndUploadsWhenMissing(t *testing.T) {
	content := []byte("layer-bytes")
	dig := digest.Of(content)

	sourceMux := http.NewServeMux()
	sourceMux.HandleFunc("/v2/{$}", apiVersionOK)
	sourceMux.HandleFunc(fmt.Sprintf("/v2/foo/blobs/%s", dig.String()), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(content)
	})
	sourceSrv := httptest.NewServer(sourceMux)
	defer sourceSrv.Close()

	destMux := http.NewServeMux()
	var uploadSeen bool
	destMux.HandleFunc("/v2/{$}", apiVersionOK)
	destMux.HandleFunc(fmt.Sprintf("/v2/foo/blobs/%s", dig.String()), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	destMux.HandleFunc("/v2/foo/blobs/uploads/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/v2/foo/blobs/uploads/s1")
		w.WriteHeader(http.StatusAccepted)
	})
	destMux.HandleFunc("/v2/foo/blobs/uploads/s1", func(w http.ResponseWriter, r *http.Request) {
		uploadSeen = true
		w.WriteHeader(http.StatusCreated)
	})
	destSrv := httptest.NewServer(destMux)
	defer destSrv.Close()

	src := newTestClient(t, sourceSrv)
	dst := newTestClient(t, destSrv)

	desc := ociimage.Descriptor{Digest: dig, Size: int64(len(content))}
	require.NoError(t, dst.CopyBlob(context.Background(), src, "foo", desc))
	assert.True(t, uploadSeen)
}

func TestListTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"foo","tags":["v1","v2"]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	tags, err := c.ListTags(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, tags)
}

func TestGetManifestOrIndexFallsBackToIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.oci.image.index.v1+json")
		w.Write([]byte(`{"schemaVersion":2,"manifests":[{"mediaType":"application/vnd.oci.image.manifest.v1+json","digest":"sha256:` + sixtyFourZeros() + `","size":100,"platform":{"architecture":"amd64","os":"linux"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	m, idx, err := c.GetManifestOrIndex(context.Background(), "foo", "latest")
	require.NoError(t, err)
	assert.Nil(t, m)
	require.NotNil(t, idx)
	assert.Len(t, idx.Manifests, 1)
}

func TestDecodeErrorReturnsDistributionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/" {
			apiVersionOK(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"code":"MANIFEST_UNKNOWN","message":"not found"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetManifest(context.Background(), "foo", "missing")
	require.Error(t, err)
	var distErrs *ociimage.DistributionErrors
	require.ErrorAs(t, err, &distErrs)
	assert.Equal(t, ociimage.CodeManifestUnknown, distErrs.Errors[0].Code)
}

// apiVersionOK answers the GET /v2/ check that New makes before any
// other request.
func apiVersionOK(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func sixtyFourZeros() string {
	z := make([]byte, 64)
	for i := range z {
		z[i] = '0'
	}
	return string(z)
}
