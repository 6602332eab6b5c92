package nest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"nestctl/internal/auth"
	"nestctl/internal/stream"
)

// fakeAPI serves the REST collections and the push stream from canned
// records, recording every write it receives.
type fakeAPI struct {
	mu          sync.Mutex
	structures  map[string]StructureData
	thermostats map[string]ThermostatData
	cameras     map[string]CameraData
	protects    map[string]ProtectData
	puts        []putRequest
	failPuts    bool
	streamLines []string

	gets atomic.Int32
	srv  *httptest.Server
}

type putRequest struct {
	path string
	body map[string]any
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer test-access" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.URL.Path == "/stream" {
		f.mu.Lock()
		lines := append([]string(nil), f.streamLines...)
		f.mu.Unlock()
		for _, line := range lines {
			_, _ = fmt.Fprintln(w, line)
			w.(http.Flusher).Flush()
		}
		<-r.Context().Done()
		return
	}

	if r.Method == http.MethodPut {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPuts {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"write rejected"}`))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.puts = append(f.puts, putRequest{path: r.URL.Path, body: body})
		_, _ = w.Write([]byte(`{}`))
		return
	}

	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	var payload any
	switch {
	case r.URL.Path == "/structures":
		payload = f.structures
	case strings.HasPrefix(r.URL.Path, "/structures/"):
		payload = f.structures[strings.TrimPrefix(r.URL.Path, "/structures/")]
	case r.URL.Path == "/devices/thermostats":
		payload = f.thermostats
	case strings.HasPrefix(r.URL.Path, "/devices/thermostats/"):
		payload = f.thermostats[strings.TrimPrefix(r.URL.Path, "/devices/thermostats/")]
	case r.URL.Path == "/devices/cameras":
		payload = f.cameras
	case strings.HasPrefix(r.URL.Path, "/devices/cameras/"):
		payload = f.cameras[strings.TrimPrefix(r.URL.Path, "/devices/cameras/")]
	case r.URL.Path == "/devices/smoke_co_alarms":
		payload = f.protects
	case strings.HasPrefix(r.URL.Path, "/devices/smoke_co_alarms/"):
		payload = f.protects[strings.TrimPrefix(r.URL.Path, "/devices/smoke_co_alarms/")]
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (f *fakeAPI) getCount() int32 { return f.gets.Load() }

func (f *fakeAPI) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeAPI) lastPut(t *testing.T) putRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.puts)
	return f.puts[len(f.puts)-1]
}

// newTestSession starts the fake API and opens a session against it with a
// valid cached token already in place.
func newTestSession(t *testing.T, f *fakeAPI) *Session {
	t.Helper()
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	cache := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, auth.NewStore(cache).Save(&oauth2.Token{
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	s, err := Open(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenCache:   cache,
		BaseURL:      f.srv.URL,
		OAuthEndpoint: oauth2.Endpoint{
			AuthURL:  f.srv.URL + "/authorize",
			TokenURL: f.srv.URL + "/token",
		},
		StreamOptions: []stream.Option{
			stream.WithBackoff(time.Millisecond, 10*time.Millisecond),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
