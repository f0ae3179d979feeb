package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ankogit/serenade/internal/metrics"
)

// JoinFunc establishes the voice link for a new session
type JoinFunc func(ctx context.Context) (VoiceLink, error)

// Options configures a Registry
type Options struct {
	Source  Source
	NewSink SinkFactory
	Metrics *metrics.Metrics
	Logger  *logrus.Logger

	// OnTrackFailed hears about queued tracks skipped because they could not
	// play. A track that fails as the first of a session is returned by
	// Enqueue instead.
	OnTrackFailed FailureFunc
}

// Registry maps guild IDs to their live session.
// The map lock is never held while joining a voice channel or while calling
// into a session, so guilds never wait on each other.
type Registry struct {
	options Options

	entries map[string]*entry
	mu      sync.Mutex
}

// entry is pending until ready is closed; afterwards session is set
// (or the entry was removed because the join failed).
type entry struct {
	ready   chan struct{}
	session *Session
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	return &Registry{
		options: opts,
		entries: make(map[string]*entry),
	}
}

// Get returns the live session for a guild without creating one
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[guildID]
	if !exists || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// GetOrCreate returns the guild's session, joining voice through join when
// there is none. Concurrent callers for one guild share a single join.
func (r *Registry) GetOrCreate(ctx context.Context, guildID string, join JoinFunc) (*Session, error) {
	for {
		r.mu.Lock()
		e, exists := r.entries[guildID]
		if !exists {
			e = &entry{ready: make(chan struct{})}
			r.entries[guildID] = e
			r.mu.Unlock()
			return r.create(ctx, guildID, e, join)
		}
		r.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		r.mu.Lock()
		s := e.session
		r.mu.Unlock()
		if s != nil {
			return s, nil
		}
		// The join we waited for failed; try our own
	}
}

func (r *Registry) create(ctx context.Context, guildID string, e *entry, join JoinFunc) (*Session, error) {
	defer close(e.ready)

	link, err := join(ctx)
	if err != nil {
		r.drop(guildID, e)
		return nil, fmt.Errorf("%w: %v", ErrVoiceJoinFailed, err)
	}

	s, err := newSession(guildID, link, sessionDeps{
		source:  r.options.Source,
		newSink: r.options.NewSink,
		metrics: r.options.Metrics,
		logger:  r.options.Logger,
		onClose: r.release,
		onFail:  r.options.OnTrackFailed,
	})
	if err != nil {
		link.Destroy()
		r.drop(guildID, e)
		return nil, err
	}

	r.options.Metrics.SessionOpened()

	r.mu.Lock()
	e.session = s
	r.mu.Unlock()

	r.options.Logger.Infof("[%s] Session %s created", guildID, s.ID())
	return s, nil
}

// Enqueue adds ref to the guild's session, creating the session if needed.
// A session torn down between lookup and enqueue is replaced by a fresh one.
func (r *Registry) Enqueue(ctx context.Context, guildID, ref string, join JoinFunc) (PlayState, *Session, error) {
	for {
		s, err := r.GetOrCreate(ctx, guildID, join)
		if err != nil {
			return Queued, nil, err
		}

		state, err := s.Enqueue(ref)
		if errors.Is(err, ErrSessionGone) {
			r.release(s)
			continue
		}
		return state, s, err
	}
}

// Remove deletes the guild's entry. It is a no-op when absent.
// Only the map is touched: a live session is not torn down, so callers
// other than the session's own teardown must stop it first.
func (r *Registry) Remove(guildID string) {
	r.removeIf(guildID, nil)
}

// release removes s only if it is still the guild's current session
func (r *Registry) release(s *Session) {
	r.removeIf(s.guildID, func(e *entry) bool { return e.session == s })
}

// drop removes a pending entry whose join or setup failed
func (r *Registry) drop(guildID string, pending *entry) {
	r.removeIf(guildID, func(e *entry) bool { return e == pending })
}

func (r *Registry) removeIf(guildID string, match func(*entry) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[guildID]
	if !exists || (match != nil && !match(e)) {
		return
	}
	delete(r.entries, guildID)
}

// Sessions returns the live sessions
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.entries))
	for _, e := range r.entries {
		if e.session != nil {
			sessions = append(sessions, e.session)
		}
	}
	return sessions
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	return len(r.Sessions())
}

// Shutdown tears down every live session in parallel
func (r *Registry) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range r.Sessions() {
		g.Go(func() error {
			s.close(metrics.ReasonShutdown)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timeout tearing down sessions: %w", ctx.Err())
	}
}
