package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Status is the state of a Player
type Status int

const (
	StatusIdle Status = iota
	StatusBuffering
	StatusPlaying
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBuffering:
		return "buffering"
	case StatusPlaying:
		return "playing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusChange describes one player transition
type StatusChange struct {
	From Status
	To   Status
}

// Listener receives every player transition in emission order.
// It is called from the playback goroutine, never while the player lock is held.
type Listener func(StatusChange)

// Output is the voice transport a Player writes opus frames to
type Output interface {
	Speaking(speaking bool) error
	SendFrame(frame []byte) error
}

// Encoder turns one PCM frame into an opus packet
type Encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Player renders s16le PCM streams to an Output, one stream at a time
type Player struct {
	guildID  string
	out      Output
	encoder  Encoder
	listener Listener
	logger   *logrus.Logger

	mu      sync.Mutex
	status  Status
	current *playback
}

type playback struct {
	stream io.ReadCloser
	stop   chan struct{}
	once   sync.Once
}

func (pb *playback) halt() {
	pb.once.Do(func() {
		close(pb.stop)
		_ = pb.stream.Close()
	})
}

// NewPlayer creates a new player bound to out
func NewPlayer(guildID string, out Output, encoder Encoder, listener Listener, logger *logrus.Logger) *Player {
	return &Player{
		guildID:  guildID,
		out:      out,
		encoder:  encoder,
		listener: listener,
		logger:   logger,
	}
}

// Play starts rendering stream in the background. Any stream still playing is halted.
func (p *Player) Play(stream io.ReadCloser) {
	pb := &playback{stream: stream, stop: make(chan struct{})}

	p.mu.Lock()
	prev := p.current
	p.current = pb
	p.mu.Unlock()

	if prev != nil {
		prev.halt()
	}

	go p.run(pb)
}

// Stop halts the current stream without waiting for it to drain.
// The player reports Idle once the playback goroutine has exited.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.current
	p.mu.Unlock()

	if pb != nil {
		pb.halt()
	}
}

// Status returns the current player status
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Player) run(pb *playback) {
	p.transition(StatusBuffering)

	speaking := false
	defer func() {
		pb.halt()
		if speaking {
			if err := p.out.Speaking(false); err != nil {
				p.logger.WithError(err).Debugf("[%s] Failed to clear speaking flag", p.guildID)
			}
		}

		// A superseded playback leaves status reporting to its successor
		p.mu.Lock()
		superseded := p.current != pb
		if !superseded {
			p.current = nil
		}
		p.mu.Unlock()

		if !superseded {
			p.transition(StatusIdle)
		}
	}()

	pcmBytes := make([]byte, PCMFrameSize)
	samples := make([]int16, FrameSize*Channels)
	opusFrame := make([]byte, MaxOpusFrameSize)

	for {
		select {
		case <-pb.stop:
			p.logger.Debugf("[%s] Playback stopped", p.guildID)
			return
		default:
		}

		if _, err := io.ReadFull(pb.stream, pcmBytes); err != nil {
			select {
			case <-pb.stop:
				p.logger.Debugf("[%s] Playback stopped", p.guildID)
			default:
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					p.logger.Debugf("[%s] Stream ended", p.guildID)
				} else {
					p.logger.WithError(err).Warnf("[%s] Error reading audio data", p.guildID)
				}
			}
			return
		}

		// Convert bytes to int16 samples (little-endian)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(pcmBytes[i*2:]))
		}

		n, err := p.encoder.Encode(samples, opusFrame)
		if err != nil {
			p.logger.WithError(err).Warnf("[%s] Failed to encode opus", p.guildID)
			return
		}

		if !speaking {
			if err := p.out.Speaking(true); err != nil {
				p.logger.WithError(err).Warnf("[%s] Failed to set speaking", p.guildID)
				return
			}
			speaking = true
			p.transition(StatusPlaying)
		}

		if err := p.out.SendFrame(opusFrame[:n]); err != nil {
			p.logger.WithError(err).Warnf("[%s] Error sending audio frame", p.guildID)
			return
		}
	}
}

func (p *Player) transition(to Status) {
	p.mu.Lock()
	from := p.status
	p.status = to
	p.mu.Unlock()

	if from != to && p.listener != nil {
		p.listener(StatusChange{From: from, To: to})
	}
}
