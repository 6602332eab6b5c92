package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeTokenServer serves the OAuth2 token endpoint and counts exchange and
// refresh round trips.
type fakeTokenServer struct {
	exchanges     atomic.Int32
	refreshes     atomic.Int32
	rejectCode    bool
	rejectRefresh bool
	serial        atomic.Int32
}

func (f *fakeTokenServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		grant := r.FormValue("grant_type")
		switch grant {
		case "authorization_code":
			f.exchanges.Add(1)
			if f.rejectCode {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
				return
			}
		case "refresh_token":
			f.refreshes.Add(1)
			if f.rejectRefresh {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
				return
			}
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		n := f.serial.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fmt.Sprintf("access-%d", n),
			"refresh_token": fmt.Sprintf("refresh-%d", n),
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	}
}

func newTestManager(t *testing.T, srv *httptest.Server) (*Manager, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "token.json"))
	m := NewManager("client-id", "client-secret", store, WithEndpoint(oauth2.Endpoint{
		AuthURL:  srv.URL + "/auth",
		TokenURL: srv.URL + "/token",
	}))
	return m, store
}

func TestExchangeThenEnsureValidDoesNotRefresh(t *testing.T) {
	fake := &fakeTokenServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	m, store := newTestManager(t, srv)

	tok, err := m.Exchange(context.Background(), "pin-1234")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)

	// fresh token: no refresh round trip
	again, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, again.AccessToken)
	assert.Equal(t, int32(1), fake.exchanges.Load())
	assert.Equal(t, int32(0), fake.refreshes.Load())

	// exchange wrote through to the store
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, saved.AccessToken)
}

func TestEnsureValidRefreshesExpiredToken(t *testing.T) {
	fake := &fakeTokenServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	m, store := newTestManager(t, srv)
	m.Lock()
	m.token = &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-old",
		Expiry:       time.Now().Add(-time.Hour),
	}
	m.Unlock()

	tok, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, int32(1), fake.refreshes.Load())

	// persisted content equals the new credential
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, saved.AccessToken)
	assert.Equal(t, tok.RefreshToken, saved.RefreshToken)

	// and the token now re-reads as fresh
	again, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, again.AccessToken)
	assert.Equal(t, int32(1), fake.refreshes.Load())
}

func TestConcurrentEnsureValidRefreshesOnce(t *testing.T) {
	fake := &fakeTokenServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	m, _ := newTestManager(t, srv)
	m.Lock()
	m.token = &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-old",
		Expiry:       time.Now().Add(-time.Hour),
	}
	m.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.EnsureValid(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "access-1", tok.AccessToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fake.refreshes.Load())
}

func TestForceRefreshSkipsWhenAlreadyRotated(t *testing.T) {
	fake := &fakeTokenServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	m, _ := newTestManager(t, srv)
	m.Lock()
	m.token = &oauth2.Token{
		AccessToken:  "current",
		RefreshToken: "refresh-old",
		Expiry:       time.Now().Add(time.Hour),
	}
	m.Unlock()

	// caller saw a 401 on an access token someone else already rotated past
	tok, err := m.ForceRefresh(context.Background(), "older-than-current")
	require.NoError(t, err)
	assert.Equal(t, "current", tok.AccessToken)
	assert.Equal(t, int32(0), fake.refreshes.Load())

	// a 401 on the current token does force a round trip
	tok, err = m.ForceRefresh(context.Background(), "current")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, int32(1), fake.refreshes.Load())
}

func TestExchangeInvalidCode(t *testing.T) {
	fake := &fakeTokenServer{rejectCode: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	m, _ := newTestManager(t, srv)

	_, err := m.Exchange(context.Background(), "bad-pin")
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
}

func TestRejectedRefreshRequiresReauthorization(t *testing.T) {
	fake := &fakeTokenServer{rejectRefresh: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	m, _ := newTestManager(t, srv)
	m.Lock()
	m.token = &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	}
	m.Unlock()

	_, err := m.EnsureValid(context.Background())
	var reauth *ReauthorizationRequired
	require.ErrorAs(t, err, &reauth)
}

func TestEnsureValidWithoutCredential(t *testing.T) {
	fake := &fakeTokenServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	m, _ := newTestManager(t, srv)

	_, err := m.EnsureValid(context.Background())
	var reauth *ReauthorizationRequired
	require.ErrorAs(t, err, &reauth)
	assert.False(t, m.HasCredential())
}

func TestAuthorizeURLIsDeterministicAndOffline(t *testing.T) {
	m := NewManager("client-id", "client-secret", NewStore(filepath.Join(t.TempDir(), "token.json")))

	url := m.AuthorizeURL()
	assert.Contains(t, url, "client_id=client-id")
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "state=")
}

func TestRefreshNetworkErrorIsNotReauthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refused connections from here on

	store := NewStore(filepath.Join(t.TempDir(), "token.json"))
	m := NewManager("client-id", "client-secret", store, WithEndpoint(oauth2.Endpoint{
		AuthURL:  srv.URL + "/auth",
		TokenURL: srv.URL + "/token",
	}))
	m.Lock()
	m.token = &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-old",
		Expiry:       time.Now().Add(-time.Hour),
	}
	m.Unlock()

	_, err := m.EnsureValid(context.Background())
	require.Error(t, err)
	var reauth *ReauthorizationRequired
	assert.False(t, errors.As(err, &reauth))
}
