package nest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"nestctl/internal/auth"
	"nestctl/internal/stream"
	"nestctl/internal/transport"
)

const apiURL = "https://developer-api.nest.com"

// Config carries what a Session needs to construct its collaborators.
// OAuthEndpoint and BaseURL default to the production API and exist for
// tests and alternate deployments.
type Config struct {
	ClientID      string
	ClientSecret  string
	TokenCache    string
	BaseURL       string
	OAuthEndpoint oauth2.Endpoint
	StreamOptions []stream.Option
}

// Session is the single top-level handle composing the auth manager, the
// REST client, the stream connection and the live model. Construct one per
// process: every extra Session multiplies connection and rate-limit
// pressure against the same credential.
type Session struct {
	auth     *auth.Manager
	api      *transport.Client
	registry *Registry
	signal   *stream.Signal
	conn     *stream.Connection

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	closed  bool
}

// Open builds the session and loads any cached credential. A missing
// token cache leaves the session in the needs-authorization state; the
// caller then drives the AuthorizeURL/Exchange workflow.
func Open(cfg Config) (*Session, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("client id and client secret are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = apiURL
	}

	var authOpts []auth.Option
	if cfg.OAuthEndpoint.TokenURL != "" {
		authOpts = append(authOpts, auth.WithEndpoint(cfg.OAuthEndpoint))
	}
	store := auth.NewStore(cfg.TokenCache)
	manager := auth.NewManager(cfg.ClientID, cfg.ClientSecret, store, authOpts...)
	if err := manager.LoadCached(); err != nil {
		log.WithError(err).Warn("token load failed, authorization may be required")
	}

	s := &Session{
		auth:     manager,
		api:      transport.NewClient(base, manager),
		registry: NewRegistry(),
		signal:   stream.NewSignal(),
	}
	s.conn = stream.NewConnection(base, manager, s.signal, s.registry.Apply, s.seed, cfg.StreamOptions...)
	return s, nil
}

// NeedsAuthorization reports whether the user must complete the
// authorize flow before any API call can succeed.
func (s *Session) NeedsAuthorization() bool {
	return !s.auth.HasCredential()
}

// AuthorizeURL starts the authorization workflow; the user visits it and
// brings back a PIN for Exchange.
func (s *Session) AuthorizeURL() string {
	return s.auth.AuthorizeURL()
}

// Exchange completes the authorization workflow with the user's PIN.
func (s *Session) Exchange(ctx context.Context, pin string) error {
	_, err := s.auth.Exchange(ctx, pin)
	return err
}

// UpdateSignal is the process-wide change flag consumers wait on.
func (s *Session) UpdateSignal() *stream.Signal {
	return s.signal
}

// StreamState reports where the background connection currently is.
func (s *Session) StreamState() stream.State {
	return s.conn.State()
}

// Start launches the background stream loop. The returned error only
// covers startup; runtime failures surface through Wait.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("session already started")
	}
	if s.closed {
		return errors.New("session is closed")
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.conn.Run(ctx)
	})

	s.cancel = cancel
	s.group = group
	s.started = true
	return nil
}

// Wait blocks until the background loop exits. It returns an error only
// when the stream exhausted its failure budget.
func (s *Session) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Close disconnects the stream and releases the session. Safe to call on
// every exit path, started or not, any number of times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	group := s.group
	s.mu.Unlock()

	s.conn.Stop()
	if cancel != nil {
		cancel()
	}
	if group != nil {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// seed runs after every stream connect: one full fetch of all collections
// so the registry starts from a complete server snapshot.
func (s *Session) seed(ctx context.Context) error {
	var structures map[string]StructureData
	if err := s.api.Get(ctx, "/structures", &structures); err != nil {
		return fmt.Errorf("failed to fetch structures: %w", err)
	}
	for id, data := range structures {
		if err := s.registry.Seed(colStructures, id, data); err != nil {
			return err
		}
	}

	var thermostats map[string]ThermostatData
	if err := s.api.Get(ctx, "/devices/thermostats", &thermostats); err != nil {
		return fmt.Errorf("failed to fetch thermostats: %w", err)
	}
	for id, data := range thermostats {
		if err := s.registry.Seed(colThermostats, id, data); err != nil {
			return err
		}
	}

	var cameras map[string]CameraData
	if err := s.api.Get(ctx, "/devices/cameras", &cameras); err != nil {
		return fmt.Errorf("failed to fetch cameras: %w", err)
	}
	for id, data := range cameras {
		if err := s.registry.Seed(colCameras, id, data); err != nil {
			return err
		}
	}

	var protects map[string]ProtectData
	if err := s.api.Get(ctx, "/devices/smoke_co_alarms", &protects); err != nil {
		return fmt.Errorf("failed to fetch smoke_co_alarms: %w", err)
	}
	for id, data := range protects {
		if err := s.registry.Seed(colProtects, id, data); err != nil {
			return err
		}
	}
	return nil
}

// Structures lists the account's structures as live views, ordered by id.
func (s *Session) Structures(ctx context.Context) ([]*Structure, error) {
	var records map[string]StructureData
	if err := s.api.Get(ctx, "/structures", &records); err != nil {
		return nil, err
	}
	out := make([]*Structure, 0, len(records))
	for _, id := range sortedKeys(records) {
		out = append(out, &Structure{id: id, s: s})
	}
	return out, nil
}

// Structure returns a live view over one structure without a list call.
func (s *Session) Structure(id string) *Structure {
	return &Structure{id: id, s: s}
}

// Thermostats lists the account's thermostats as live views, ordered by id.
func (s *Session) Thermostats(ctx context.Context) ([]*Thermostat, error) {
	var records map[string]ThermostatData
	if err := s.api.Get(ctx, "/devices/thermostats", &records); err != nil {
		return nil, err
	}
	out := make([]*Thermostat, 0, len(records))
	for _, id := range sortedKeys(records) {
		out = append(out, &Thermostat{id: id, s: s})
	}
	return out, nil
}

// Thermostat returns a live view over one thermostat.
func (s *Session) Thermostat(id string) *Thermostat {
	return &Thermostat{id: id, s: s}
}

// Cameras lists the account's cameras as live views, ordered by id.
func (s *Session) Cameras(ctx context.Context) ([]*Camera, error) {
	var records map[string]CameraData
	if err := s.api.Get(ctx, "/devices/cameras", &records); err != nil {
		return nil, err
	}
	out := make([]*Camera, 0, len(records))
	for _, id := range sortedKeys(records) {
		out = append(out, &Camera{id: id, s: s})
	}
	return out, nil
}

// Camera returns a live view over one camera.
func (s *Session) Camera(id string) *Camera {
	return &Camera{id: id, s: s}
}

// Protects lists the account's smoke+CO alarms as live views, ordered by id.
func (s *Session) Protects(ctx context.Context) ([]*Protect, error) {
	var records map[string]ProtectData
	if err := s.api.Get(ctx, "/devices/smoke_co_alarms", &records); err != nil {
		return nil, err
	}
	out := make([]*Protect, 0, len(records))
	for _, id := range sortedKeys(records) {
		out = append(out, &Protect{id: id, s: s})
	}
	return out, nil
}

// Protect returns a live view over one smoke+CO alarm.
func (s *Session) Protect(id string) *Protect {
	return &Protect{id: id, s: s}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
