// Package session implements per-guild playback sessions and the registry
// that maps guilds to their live session.
package session

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ankogit/serenade/internal/audio"
	"github.com/ankogit/serenade/internal/metrics"
	"github.com/ankogit/serenade/internal/source"
)

// PlayState is the result of Enqueue
type PlayState int

const (
	// Queued means the track waits behind the active one
	Queued PlayState = iota
	// Started means the track began playing immediately
	Started
)

func (p PlayState) String() string {
	if p == Started {
		return "started"
	}
	return "queued"
}

// VoiceLink is the bot's presence in one voice channel
type VoiceLink interface {
	audio.Output
	// Destroy leaves the channel. It is called at most once per session.
	Destroy()
}

// Sink renders one stream at a time and reports transitions to its listener
type Sink interface {
	Play(stream io.ReadCloser)
	// Stop must not block on the playback goroutine
	Stop()
}

// Source starts a track without waiting for audio
type Source interface {
	Start(ref string) (io.ReadCloser, source.Handle, error)
}

// SinkFactory binds a new sink to a voice link
type SinkFactory func(guildID string, link VoiceLink, listener audio.Listener) (Sink, error)

// Snapshot is a read-only view of a session's playback
type Snapshot struct {
	NowPlaying string
	Queue      []string
}

// FailureFunc is told about a queued track that could not be played
type FailureFunc func(guildID, ref string, err error)

type trackFailure struct {
	ref string
	err error
}

type activeTrack struct {
	ref      string
	handle   source.Handle
	skipping bool
}

// Session owns one guild's voice link, sink, queue and active source.
// Commands and sink reactions are serialized by mu; sink transitions are
// delivered through the events inbox in emission order.
type Session struct {
	id      uuid.UUID
	guildID string
	link    VoiceLink
	sink    Sink
	source  Source
	metrics *metrics.Metrics
	logger  *logrus.Entry
	onClose func(*Session)
	onFail  FailureFunc

	events chan audio.StatusChange
	done   chan struct{}

	mu     sync.Mutex
	queue  []string
	active *activeTrack
	closed bool
}

type sessionDeps struct {
	source  Source
	newSink SinkFactory
	metrics *metrics.Metrics
	logger  *logrus.Logger
	onClose func(*Session)
	onFail  FailureFunc
}

func newSession(guildID string, link VoiceLink, deps sessionDeps) (*Session, error) {
	id := uuid.New()
	s := &Session{
		id:      id,
		guildID: guildID,
		link:    link,
		source:  deps.source,
		metrics: deps.metrics,
		onClose: deps.onClose,
		onFail:  deps.onFail,
		logger: deps.logger.WithFields(logrus.Fields{
			"guild":   guildID,
			"session": id.String(),
		}),
		events: make(chan audio.StatusChange, 16),
		done:   make(chan struct{}),
	}

	sink, err := deps.newSink(guildID, link, s.notify)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio sink: %w", err)
	}
	s.sink = sink

	go s.run()
	return s, nil
}

// ID identifies this session instance; a recreated session gets a new ID
func (s *Session) ID() uuid.UUID { return s.id }

// GuildID returns the guild the session plays in
func (s *Session) GuildID() string { return s.guildID }

// Link returns the voice link owned by the session
func (s *Session) Link() VoiceLink { return s.link }

// Done is closed once the session is torn down
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue appends ref and starts it when nothing is active
func (s *Session) Enqueue(ref string) (PlayState, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Queued, ErrEmptyTrackRef
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Queued, ErrSessionGone
	}

	if s.active != nil {
		s.queue = append(s.queue, ref)
		s.logger.Infof("Queued %s (position %d)", ref, len(s.queue))
		return Queued, nil
	}

	// Nothing active means nothing queued; the caller hears about the failure
	if err := s.startLocked(ref); err != nil {
		s.metrics.SourceFailed()
		s.logger.WithError(err).Warnf("Could not start %s", ref)
		s.teardownLocked(metrics.ReasonSourceFailed)
		return Queued, err
	}
	return Started, nil
}

// Skip stops the active track; the sink's idle report advances the queue
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionGone
	}
	if s.active == nil {
		return ErrNotPlaying
	}
	if s.active.skipping {
		return nil
	}

	s.logger.Infof("Skipping %s", s.active.ref)
	s.active.skipping = true
	s.active.handle.Terminate()
	s.sink.Stop()
	return nil
}

// Stop clears the queue and tears the session down
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionGone
	}
	if s.active == nil && len(s.queue) == 0 {
		return ErrNotPlaying
	}

	s.teardownLocked(metrics.ReasonStopped)
	return nil
}

// Disconnected reacts to the voice link being removed by someone else.
// It is safe to call at any time, any number of times.
func (s *Session) Disconnected() {
	s.close(metrics.ReasonDisconnected)
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(reason)
}

// Snapshot returns the active track and pending queue
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Queue: slices.Clone(s.queue)}
	if s.active != nil {
		snap.NowPlaying = s.active.ref
	}
	return snap
}

// notify is the sink listener. It never blocks once the session is closed.
func (s *Session) notify(change audio.StatusChange) {
	select {
	case s.events <- change:
	case <-s.done:
	}
}

func (s *Session) run() {
	for {
		select {
		case change := <-s.events:
			s.handleStatus(change)
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleStatus(change audio.StatusChange) {
	if change.To != audio.StatusIdle || change.From == audio.StatusIdle {
		return
	}

	s.mu.Lock()
	failures := s.trackEndedLocked(change.From)
	s.mu.Unlock()

	// Reported outside the lock so a slow listener cannot stall commands
	if s.onFail == nil {
		return
	}
	for _, f := range failures {
		s.onFail(s.guildID, f.ref, f.err)
	}
}

// trackEndedLocked frees the active slot and advances the queue
func (s *Session) trackEndedLocked(from audio.Status) []trackFailure {
	// Idle caused by a teardown
	if s.closed || s.active == nil {
		return nil
	}

	finished := s.active
	s.active = nil
	finished.handle.Terminate()

	var failures []trackFailure
	if from == audio.StatusBuffering && !finished.skipping {
		s.metrics.SourceFailed()
		s.logger.Warnf("Track %s produced no audio", finished.ref)
		failures = append(failures, trackFailure{
			ref: finished.ref,
			err: fmt.Errorf("%w: %s produced no audio", ErrSourceUnavailable, finished.ref),
		})
	} else {
		s.logger.Infof("Finished %s", finished.ref)
	}

	started, skipped := s.advanceLocked()
	failures = append(failures, skipped...)
	if !started {
		s.teardownLocked(metrics.ReasonQueueEnded)
	}
	return failures
}

// advanceLocked dequeues until a track starts or the queue is empty,
// returning the tracks that failed to start on the way.
func (s *Session) advanceLocked() (bool, []trackFailure) {
	var failures []trackFailure
	for len(s.queue) > 0 {
		ref := s.queue[0]
		s.queue = s.queue[1:]

		if err := s.startLocked(ref); err != nil {
			s.metrics.SourceFailed()
			s.logger.WithError(err).Warnf("Skipping %s", ref)
			failures = append(failures, trackFailure{ref: ref, err: err})
			continue
		}
		return true, failures
	}
	return false, failures
}

func (s *Session) startLocked(ref string) error {
	stream, handle, err := s.source.Start(ref)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, ref, err)
	}

	s.active = &activeTrack{ref: ref, handle: handle}
	go s.logExit(ref, handle)

	s.sink.Play(stream)
	s.metrics.TrackStarted()
	s.logger.Infof("Now streaming %s", ref)
	return nil
}

// logExit reports the source exit. Signal exits are the normal result of
// skip, stop and teardown.
func (s *Session) logExit(ref string, handle source.Handle) {
	exit, ok := <-handle.Done()
	if !ok {
		return
	}

	entry := s.logger.WithField("track", ref)
	switch {
	case exit.Signaled():
		entry.Debugf("Source %s", exit)
	case exit.Abnormal():
		entry.WithField("stderr", exit.Stderr).Warnf("Source %s", exit)
	default:
		entry.Debugf("Source %s", exit)
	}
}

// teardownLocked stops the sink, terminates the source, destroys the link
// and leaves the registry, in that order. Only the first call has effect.
func (s *Session) teardownLocked(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil

	s.sink.Stop()
	if s.active != nil {
		s.active.handle.Terminate()
		s.active = nil
	}
	s.link.Destroy()
	close(s.done)

	if s.onClose != nil {
		s.onClose(s)
	}

	s.metrics.SessionClosed(reason)
	s.logger.Infof("Session closed (%s)", reason)
}
