package session

import "errors"

var (
	// ErrVoiceJoinFailed means the voice link could not be established; no session was created
	ErrVoiceJoinFailed = errors.New("failed to join voice channel")
	// ErrSourceUnavailable means a track source could not be started
	ErrSourceUnavailable = errors.New("track source unavailable")
	// ErrNotPlaying means there is nothing to skip or stop
	ErrNotPlaying = errors.New("nothing is playing")
	// ErrSessionGone means the session was torn down before the operation ran
	ErrSessionGone = errors.New("session is gone")
	// ErrEmptyTrackRef rejects blank track references
	ErrEmptyTrackRef = errors.New("track reference is empty")
)
