package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	authorizeURL   = "https://home.nest.com/login/oauth2"
	accessTokenURL = "https://api.home.nest.com/oauth2/access_token"
	redirectURI    = "https://www.google.com"

	// expiryMargin is how close to expiry a token may get before
	// EnsureValid refreshes it.
	expiryMargin = time.Minute
)

// Manager owns the OAuth2 client identity and the current credential.
// All refresh paths are serialized under the embedded mutex, so
// concurrent callers that discover an expired token share a single
// refresh round trip instead of racing with an already-rotated
// refresh token.
type Manager struct {
	sync.Mutex
	config *oauth2.Config
	store  *Store
	token  *oauth2.Token
	state  string
	margin time.Duration
}

type Option func(*Manager)

// WithEndpoint overrides the OAuth2 endpoints, used by tests and
// alternate deployments.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(m *Manager) {
		m.config.Endpoint = endpoint
	}
}

// WithExpiryMargin overrides the refresh safety margin.
func WithExpiryMargin(d time.Duration) Option {
	return func(m *Manager) {
		m.margin = d
	}
}

func NewManager(clientID, clientSecret string, store *Store, opts ...Option) *Manager {
	m := &Manager{
		Mutex: sync.Mutex{},
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizeURL,
				TokenURL: accessTokenURL,
			},
		},
		store:  store,
		margin: expiryMargin,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadCached populates the credential from the token store. A missing or
// unreadable cache is not fatal; the caller decides whether to start the
// authorize flow.
func (m *Manager) LoadCached() error {
	tok, err := m.store.Load()
	if err != nil {
		return err
	}
	m.Lock()
	m.token = tok
	m.Unlock()
	log.WithField("path", m.store.Path()).Debug("loaded cached token")
	return nil
}

// HasCredential reports whether any credential is present, valid or not.
func (m *Manager) HasCredential() bool {
	m.Lock()
	defer m.Unlock()
	return m.token != nil && (m.token.AccessToken != "" || m.token.RefreshToken != "")
}

// AuthorizeURL builds the user-facing authorization URL. No network call.
func (m *Manager) AuthorizeURL() string {
	m.Lock()
	defer m.Unlock()
	m.state = uuid.New().String()
	return m.config.AuthCodeURL(m.state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code (PIN) for a credential and writes
// it through to the token store before returning.
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := m.config.Exchange(ctx, code)
	if err != nil {
		return nil, &AuthorizationError{Err: err}
	}

	m.Lock()
	defer m.Unlock()
	m.token = tok
	if err := m.store.Save(tok); err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}
	return tok, nil
}

// EnsureValid returns the current credential, refreshing it first when it
// is expired or within the safety margin. Cheap and idempotent, intended
// to be called before every authenticated request.
func (m *Manager) EnsureValid(ctx context.Context) (*oauth2.Token, error) {
	m.Lock()
	defer m.Unlock()

	if m.token == nil || (m.token.AccessToken == "" && m.token.RefreshToken == "") {
		return nil, &ReauthorizationRequired{Err: errors.New("no cached credential")}
	}
	if m.token.AccessToken != "" && (m.token.Expiry.IsZero() || time.Until(m.token.Expiry) > m.margin) {
		return m.token, nil
	}
	return m.refreshLocked(ctx)
}

// ForceRefresh bypasses the staleness check, for recovery from a 401 on a
// token that still looks valid locally. stale is the access token the
// caller just saw rejected; if another caller already rotated past it the
// current credential is returned without a round trip.
func (m *Manager) ForceRefresh(ctx context.Context, stale string) (*oauth2.Token, error) {
	m.Lock()
	defer m.Unlock()

	if m.token == nil {
		return nil, &ReauthorizationRequired{Err: errors.New("no cached credential")}
	}
	if m.token.AccessToken != "" && m.token.AccessToken != stale {
		return m.token, nil
	}
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	if m.token.RefreshToken == "" {
		return nil, &ReauthorizationRequired{Err: errors.New("credential has no refresh token")}
	}

	log.Debug("refreshing access token")
	src := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: m.token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil &&
			rErr.Response.StatusCode >= 400 && rErr.Response.StatusCode < 500 {
			return nil, &ReauthorizationRequired{Err: err}
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = m.token.RefreshToken
	}

	m.token = tok
	if err := m.store.Save(tok); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	return tok, nil
}
