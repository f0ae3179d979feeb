// Package codec owns the opus encoders used by the audio players.
package codec

import (
	"fmt"
	"sync"

	"github.com/hraban/opus"

	"github.com/ankogit/serenade/internal/audio"
)

// EncoderPool manages Opus encoders for multiple guilds
type EncoderPool struct {
	encoders map[string]*opus.Encoder
	mu       sync.RWMutex
}

// NewEncoderPool creates a new encoder pool
func NewEncoderPool() *EncoderPool {
	return &EncoderPool{
		encoders: make(map[string]*opus.Encoder),
	}
}

// GetOrCreate gets or creates an Opus encoder for a guild
func (p *EncoderPool) GetOrCreate(guildID string) (audio.Encoder, error) {
	p.mu.RLock()
	encoder, exists := p.encoders[guildID]
	p.mu.RUnlock()

	if exists {
		return encoder, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if encoder, exists := p.encoders[guildID]; exists {
		return encoder, nil
	}

	encoder, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	p.encoders[guildID] = encoder
	return encoder, nil
}

// Remove releases the encoder for a guild
func (p *EncoderPool) Remove(guildID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.encoders, guildID)
}

// Len returns the number of guilds holding an encoder
func (p *EncoderPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.encoders)
}
