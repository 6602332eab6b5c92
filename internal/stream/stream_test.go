package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stubProvider struct {
	mu         sync.Mutex
	token      string
	next       string
	forceCalls int
}

func (s *stubProvider) EnsureValid(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &oauth2.Token{AccessToken: s.token}, nil
}

func (s *stubProvider) ForceRefresh(ctx context.Context, stale string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceCalls++
	if s.next != "" {
		s.token = s.next
	}
	return &oauth2.Token{AccessToken: s.token}, nil
}

func (s *stubProvider) forced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceCalls
}

func writeRecord(t *testing.T, w http.ResponseWriter, rec string) {
	t.Helper()
	_, err := fmt.Fprintln(w, rec)
	require.NoError(t, err)
	w.(http.Flusher).Flush()
}

func collectEvents() (func(Event), <-chan Event) {
	ch := make(chan Event, 16)
	return func(ev Event) { ch <- ev }, ch
}

func TestStreamAppliesChangeAfterKeepAlives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream", r.URL.Path)
		writeRecord(t, w, `{"type":"keep-alive"}`)
		writeRecord(t, w, `{"type":"keep-alive"}`)
		writeRecord(t, w, `{"type":"keep-alive"}`)
		writeRecord(t, w, `{"type":"change","path":"structures/s1/away","value":"away","ts":"2026-08-23T10:00:00Z"}`)
		<-r.Context().Done()
	}))
	defer srv.Close()

	signal := NewSignal()
	apply, events := collectEvents()
	conn := NewConnection(srv.URL, &stubProvider{token: "good"}, signal, apply, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	select {
	case ev := <-events:
		assert.Equal(t, "structures/s1/away", ev.Path)
		assert.Equal(t, json.RawMessage(`"away"`), ev.Value)
		assert.Equal(t, time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC), ev.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	// keep-alives never set the signal; the single change did, once
	assert.True(t, signal.IsSet())
	signal.Clear()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, signal.Wait(waitCtx), context.DeadlineExceeded)

	conn.Stop()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestStreamSeedsBeforeReading(t *testing.T) {
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRecord(t, w, `{"type":"keep-alive"}`)
		<-r.Context().Done()
	}))
	defer srv.Close()

	var seeded atomic.Bool
	seed := func(ctx context.Context) error {
		seeded.Store(true)
		close(entered)
		return nil
	}
	conn := NewConnection(srv.URL, &stubProvider{token: "good"}, NewSignal(), func(Event) {}, seed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("seed never ran")
	}
	assert.True(t, seeded.Load())

	conn.Stop()
	require.NoError(t, <-done)
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connects.Add(1)
		writeRecord(t, w, fmt.Sprintf(`{"type":"change","path":"structures/s1/name","value":"attempt-%d"}`, n))
		if n == 1 {
			return // drop the connection
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	apply, events := collectEvents()
	conn := NewConnection(srv.URL, &stubProvider{token: "good"}, NewSignal(), apply, nil,
		WithBackoff(time.Millisecond, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	for i := 1; i <= 2; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, json.RawMessage(fmt.Sprintf(`"attempt-%d"`, i)), ev.Value)
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
	assert.GreaterOrEqual(t, connects.Load(), int32(2))

	conn.Stop()
	require.NoError(t, <-done)
}

func TestStreamRecoversFromUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeRecord(t, w, `{"type":"change","path":"structures/s1/away","value":"home"}`)
		<-r.Context().Done()
	}))
	defer srv.Close()

	provider := &stubProvider{token: "old", next: "new"}
	apply, events := collectEvents()
	conn := NewConnection(srv.URL, provider, NewSignal(), apply, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never recovered from 401")
	}
	assert.Equal(t, 1, provider.forced())

	conn.Stop()
	require.NoError(t, <-done)
}

func TestStreamGivesUpAfterFailureBudget(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	conn := NewConnection(srv.URL, &stubProvider{token: "good"}, NewSignal(), func(Event) {}, nil,
		WithFailureBudget(3), WithBackoff(time.Millisecond, 2*time.Millisecond))

	err := conn.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, conn.State())
	assert.Error(t, conn.Err())
	assert.Equal(t, int32(3), attempts.Load())
}

func TestStopFromConnectingIsSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	conn := NewConnection(srv.URL, &stubProvider{token: "good"}, NewSignal(), func(Event) {}, nil,
		WithFailureBudget(1000), WithBackoff(50*time.Millisecond, 50*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	conn.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not terminate the loop")
	}
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "error", StateError.String())
}
