package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// State of the connection. Error is terminal: the read loop has given up
// after repeated consecutive failures and will not reconnect.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	defaultMaxFailures    = 5
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	streamPath            = "/stream"
)

// TokenProvider supplies and recovers credentials for the stream request.
// Satisfied by *auth.Manager.
type TokenProvider interface {
	EnsureValid(ctx context.Context) (*oauth2.Token, error)
	ForceRefresh(ctx context.Context, stale string) (*oauth2.Token, error)
}

// Event is one server-pushed field change: a structured path naming a
// structure or device field, the new value and the server timestamp.
// Events are transient; they are applied to the model and discarded.
type Event struct {
	Path      string
	Value     json.RawMessage
	Timestamp time.Time
}

// wire record: either {"type":"keep-alive"} or
// {"type":"change","path":"devices/thermostats/<id>/<field>","value":...,"ts":"..."}.
type record struct {
	Type  string          `json:"type"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
	TS    time.Time       `json:"ts"`
}

// Connection owns the single long-lived server-push connection. It moves
// Disconnected -> Connecting -> Streaming, falls back to Connecting on a
// dropped connection, and gives up into the Error state after too many
// consecutive failed attempts. Each decoded change is handed to apply in
// arrival order and then the signal is set.
type Connection struct {
	baseURL string
	auth    TokenProvider
	signal  *Signal
	apply   func(Event)
	seed    func(ctx context.Context) error
	http    *http.Client

	maxFailures    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	state   atomic.Int32
	stopped atomic.Bool

	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
}

type Option func(*Connection)

// WithFailureBudget bounds consecutive failed connect attempts before the
// connection parks in the Error state.
func WithFailureBudget(n int) Option {
	return func(c *Connection) {
		c.maxFailures = n
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(c *Connection) {
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

// NewConnection wires the stream to its consumers. seed runs after every
// successful connect, before the read loop, so the model starts from a
// full server snapshot and a missing field can never be mistaken for one
// that simply has not been pushed yet.
func NewConnection(baseURL string, provider TokenProvider, signal *Signal, apply func(Event), seed func(ctx context.Context) error, opts ...Option) *Connection {
	c := &Connection{
		baseURL:        strings.TrimRight(baseURL, "/"),
		auth:           provider,
		signal:         signal,
		apply:          apply,
		seed:           seed,
		// no client timeout: the response body is read indefinitely
		http:           &http.Client{},
		maxFailures:    defaultMaxFailures,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

// Err reports why the connection parked in the Error state, nil otherwise.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop moves the connection to Disconnected from any state and terminates
// the read loop without surfacing an error to the consumer.
func (c *Connection) Stop() {
	c.stopped.Store(true)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the connection until ctx is done, Stop is called, or the
// failure budget is exhausted. Intended to run on the session's errgroup.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	failures := 0
	backoff := c.initialBackoff

	for {
		if ctx.Err() != nil || c.stopped.Load() {
			c.state.Store(int32(StateDisconnected))
			return nil
		}

		c.state.Store(int32(StateConnecting))
		body, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil || c.stopped.Load() {
				c.state.Store(int32(StateDisconnected))
				return nil
			}
			failures++
			if failures >= c.maxFailures {
				err = fmt.Errorf("stream gave up after %d consecutive failures: %w", failures, err)
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				c.state.Store(int32(StateError))
				return err
			}
			log.WithError(err).WithField("attempt", failures).Warn("stream connect failed, backing off")
			select {
			case <-ctx.Done():
				c.state.Store(int32(StateDisconnected))
				return nil
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}

		c.state.Store(int32(StateStreaming))
		failures = 0
		backoff = c.initialBackoff
		log.Info("stream connected")

		err = c.readLoop(ctx, body)
		_ = body.Close()
		if ctx.Err() != nil || c.stopped.Load() {
			c.state.Store(int32(StateDisconnected))
			return nil
		}
		log.WithError(err).Info("stream dropped, reconnecting")
	}
}

// connect opens the streaming request, retrying once through a forced
// refresh when the server rejects the current token, then runs the seed
// fetch. Any failure counts as one attempt against the budget.
func (c *Connection) connect(ctx context.Context) (io.ReadCloser, error) {
	tok, err := c.auth.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.open(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		_ = res.Body.Close()
		tok, err = c.auth.ForceRefresh(ctx, tok.AccessToken)
		if err != nil {
			return nil, err
		}
		res, err = c.open(ctx, tok.AccessToken)
		if err != nil {
			return nil, err
		}
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		return nil, fmt.Errorf("stream endpoint returned %s", res.Status)
	}

	if c.seed != nil {
		if err := c.seed(ctx); err != nil {
			_ = res.Body.Close()
			return nil, fmt.Errorf("failed to seed state after connect: %w", err)
		}
	}
	return res.Body, nil
}

func (c *Connection) open(ctx context.Context, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+streamPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/x-ndjson")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return res, nil
}

// readLoop decodes newline-delimited records until the connection drops.
// Keep-alives are consumed silently; each change record is applied and
// then the change signal is set, atomically per event.
func (c *Connection) readLoop(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			log.WithError(err).Debug("skipping malformed stream record")
			continue
		}

		switch rec.Type {
		case "keep-alive":
		case "change":
			c.apply(Event{Path: rec.Path, Value: rec.Value, Timestamp: rec.TS})
			c.signal.Set()
		default:
			log.WithField("type", rec.Type).Debug("skipping unknown stream record")
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}
