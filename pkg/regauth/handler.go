package regauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-containertool/containertool/pkg/transport"
)

// CredentialProvider resolves credentials for a given URL, the same shape
// a netrc lookup or an external helper would implement. ok is false when
// the provider has nothing for this URL.
type CredentialProvider interface {
	Credentials(url string) (user, password string, ok bool)
}

// CredentialProviderFunc adapts a function to CredentialProvider.
type CredentialProviderFunc func(url string) (string, string, bool)

func (f CredentialProviderFunc) Credentials(url string) (string, string, bool) { return f(url) }

// Handler drives the per-registry Basic/Bearer handshake: caching the
// challenge a registry advertised at construction, selecting credentials,
// exchanging them for bearer tokens, and attaching Authorization headers
// to outgoing requests.
type Handler struct {
	Transport         *transport.Transport
	Provider          CredentialProvider
	DefaultUser       string
	DefaultPassword   string
	RegistryURL       string // base URL credentials are selected against
	challenge         Challenge
	mu                sync.Mutex
	tokenCache        map[string]cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// NewHandler constructs a Handler. challenge is normally learned from the
// registry's unauthenticated GET /v2/ response.
func NewHandler(tr *transport.Transport, registryURL string, challenge Challenge) *Handler {
	return &Handler{
		Transport:   tr,
		RegistryURL: registryURL,
		challenge:   challenge,
		tokenCache:  make(map[string]cachedToken),
	}
}

// SetChallenge replaces the cached challenge, used when a request comes
// back with a fresh WWW-Authenticate header.
func (h *Handler) SetChallenge(c Challenge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.challenge = c
}

func (h *Handler) currentChallenge() Challenge {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.challenge
}

// credentials selects (user, password) for url: the provider first, then
// the configured defaults, otherwise none.
func (h *Handler) credentials(targetURL string) (string, string, bool) {
	if h.Provider != nil {
		if user, pass, ok := h.Provider.Credentials(targetURL); ok {
			return user, pass, true
		}
	}
	if h.DefaultUser != "" {
		return h.DefaultUser, h.DefaultPassword, true
	}
	return "", "", false
}

// Authorize attaches an Authorization header to req appropriate for the
// cached challenge, exchanging a bearer token if required. actions is the
// set of scope actions (e.g. "pull", "pull,push") requested for repo.
func (h *Handler) Authorize(ctx context.Context, req *transport.Request, repo string, actions []string) error {
	switch h.currentChallenge().Kind {
	case KindBasic:
		user, pass, ok := h.credentials(h.RegistryURL)
		if !ok {
			return nil
		}
		setBasicAuth(req, user, pass)
		return nil
	case KindBearer:
		token, err := h.bearerToken(ctx, repo, actions)
		if err != nil {
			return err
		}
		if req.Header == nil {
			req.Header = http.Header{}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	default:
		return nil
	}
}

// bearerToken returns a cached token for the given scope, or performs the
// token exchange against the advertised realm.
func (h *Handler) bearerToken(ctx context.Context, repo string, actions []string) (string, error) {
	scope := fmt.Sprintf("repository:%s:%s", repo, strings.Join(actions, ","))

	h.mu.Lock()
	if cached, ok := h.tokenCache[scope]; ok && time.Now().Before(cached.expiresAt) {
		h.mu.Unlock()
		return cached.token, nil
	}
	bearer := h.challenge.Bearer
	h.mu.Unlock()

	if bearer.Realm == "" {
		return "", fmt.Errorf("regauth: bearer challenge has no realm")
	}

	tokenURL, err := buildTokenURL(bearer, scope)
	if err != nil {
		return "", err
	}

	req := transport.Request{Method: http.MethodGet, URL: tokenURL}
	if user, pass, ok := h.credentials(tokenURL); ok {
		setBasicAuth(&req, user, pass)
	}

	resp, err := h.Transport.Do(ctx, req, []int{http.StatusOK}, []string{"application/json"})
	if err != nil {
		return "", fmt.Errorf("regauth: token exchange: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", fmt.Errorf("regauth: decoding token response: %w", err)
	}
	token := tr.Token
	if token == "" {
		token = tr.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("regauth: token response had neither token nor access_token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 60
	}

	h.mu.Lock()
	h.tokenCache[scope] = cachedToken{token: token, expiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second)}
	h.mu.Unlock()

	return token, nil
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
	Refresh     string `json:"refresh_token"`
}

func buildTokenURL(b Bearer, scope string) (string, error) {
	u, err := url.Parse(b.Realm)
	if err != nil {
		return "", fmt.Errorf("regauth: parsing realm %q: %w", b.Realm, err)
	}
	q := u.Query()
	if b.Service != "" {
		q.Set("service", b.Service)
	}
	q.Set("scope", scope)
	for _, s := range b.Scopes {
		if s != scope {
			q.Add("scope", s)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setBasicAuth(req *transport.Request, user, pass string) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	req.Header.Set("Authorization", "Basic "+creds)
}

// HandleUnauthorized updates the cached challenge from err and reports
// whether the caller should retry the request once more.
func (h *Handler) HandleUnauthorized(err error) bool {
	var challenge *transport.AuthChallengeError
	if !asAuthChallenge(err, &challenge) {
		return false
	}
	h.SetChallenge(ParseChallenge(challenge.WWWAuthenticate))
	return true
}

func asAuthChallenge(err error, target **transport.AuthChallengeError) bool {
	type causer interface{ Unwrap() error }
	for err != nil {
		if c, ok := err.(*transport.AuthChallengeError); ok {
			*target = c
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
