package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ankogit/serenade/internal/audio"
	"github.com/ankogit/serenade/internal/metrics"
	"github.com/ankogit/serenade/internal/source"
)

type fakeLink struct {
	destroyed atomic.Int32
}

func (l *fakeLink) Speaking(bool) error    { return nil }
func (l *fakeLink) SendFrame([]byte) error { return nil }
func (l *fakeLink) Destroy()               { l.destroyed.Add(1) }
func (l *fakeLink) destroyCount() int      { return int(l.destroyed.Load()) }

type fakeSink struct {
	listener audio.Listener

	mu      sync.Mutex
	plays   []string
	playing bool
	stops   int
}

func (s *fakeSink) Play(stream io.ReadCloser) {
	data, _ := io.ReadAll(stream)
	_ = stream.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, string(data))
	s.playing = true
}

// Stop reports idle asynchronously, like a real player draining its goroutine
func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.playing {
		s.playing = false
		go s.listener(audio.StatusChange{From: audio.StatusPlaying, To: audio.StatusIdle})
	}
}

// Finish simulates the current track ending naturally
func (s *fakeSink) Finish() {
	s.end(audio.StatusPlaying)
}

// FailEmpty simulates a track whose source produced no audio
func (s *fakeSink) FailEmpty() {
	s.end(audio.StatusBuffering)
}

func (s *fakeSink) end(from audio.Status) {
	s.mu.Lock()
	wasPlaying := s.playing
	s.playing = false
	s.mu.Unlock()

	if wasPlaying {
		s.listener(audio.StatusChange{From: from, To: audio.StatusIdle})
	}
}

func (s *fakeSink) Plays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.plays...)
}

func (s *fakeSink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeHandle struct {
	ref        string
	once       sync.Once
	terminated atomic.Bool
	done       chan source.Exit
}

func newFakeHandle(ref string) *fakeHandle {
	return &fakeHandle{ref: ref, done: make(chan source.Exit, 1)}
}

func (h *fakeHandle) Terminate() {
	h.once.Do(func() {
		h.terminated.Store(true)
		h.done <- source.Exit{Command: "fake", Code: -1, Signal: syscall.SIGTERM}
		close(h.done)
	})
}

func (h *fakeHandle) Done() <-chan source.Exit { return h.done }

type fakeSource struct {
	mu      sync.Mutex
	fail    map[string]bool
	started []string
	handles []*fakeHandle
	overlap bool
}

func newFakeSource(failing ...string) *fakeSource {
	f := &fakeSource{fail: make(map[string]bool)}
	for _, ref := range failing {
		f.fail[ref] = true
	}
	return f
}

// guildOf groups refs written as "guild/track"
func guildOf(ref string) string {
	guild, _, found := strings.Cut(ref, "/")
	if !found {
		return ""
	}
	return guild
}

func (f *fakeSource) Start(ref string) (io.ReadCloser, source.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[ref] {
		return nil, nil, errors.New("unsupported URL")
	}

	for _, h := range f.handles {
		if guildOf(h.ref) == guildOf(ref) && !h.terminated.Load() {
			f.overlap = true
		}
	}

	h := newFakeHandle(ref)
	f.handles = append(f.handles, h)
	f.started = append(f.started, ref)
	return io.NopCloser(strings.NewReader(ref)), h, nil
}

func (f *fakeSource) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeSource) Overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

func (f *fakeSource) handle(ref string) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.handles) - 1; i >= 0; i-- {
		if f.handles[i].ref == ref {
			return f.handles[i]
		}
	}
	return nil
}

type harness struct {
	registry *Registry
	source   *fakeSource

	mu       sync.Mutex
	sinks    map[string]*fakeSink
	links    map[string][]*fakeLink
	failures []reportedFailure
	joins    atomic.Int32
}

type reportedFailure struct {
	guildID string
	ref     string
	err     error
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHarness(t *testing.T, failing ...string) *harness {
	t.Helper()

	h := &harness{
		source: newFakeSource(failing...),
		sinks:  make(map[string]*fakeSink),
		links:  make(map[string][]*fakeLink),
	}
	h.registry = NewRegistry(Options{
		Source: h.source,
		NewSink: func(guildID string, link VoiceLink, listener audio.Listener) (Sink, error) {
			sink := &fakeSink{listener: listener}
			h.mu.Lock()
			h.sinks[guildID] = sink
			h.mu.Unlock()
			return sink, nil
		},
		Metrics: metrics.New(prometheus.NewRegistry()),
		Logger:  quietLogger(),
		OnTrackFailed: func(guildID, ref string, err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.failures = append(h.failures, reportedFailure{guildID: guildID, ref: ref, err: err})
		},
	})
	return h
}

func (h *harness) reported() []reportedFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]reportedFailure(nil), h.failures...)
}

func (h *harness) join(guildID string) JoinFunc {
	return func(ctx context.Context) (VoiceLink, error) {
		h.joins.Add(1)
		link := &fakeLink{}
		h.mu.Lock()
		h.links[guildID] = append(h.links[guildID], link)
		h.mu.Unlock()
		return link, nil
	}
}

func (h *harness) sink(guildID string) *fakeSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinks[guildID]
}

func (h *harness) linksOf(guildID string) []*fakeLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeLink(nil), h.links[guildID]...)
}

func (h *harness) gone(guildID string) func() bool {
	return func() bool {
		_, exists := h.registry.Get(guildID)
		return !exists
	}
}

// poll waits for cond without a *testing.T so property tests can use it too
func poll(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
