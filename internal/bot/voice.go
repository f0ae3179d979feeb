package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/ankogit/serenade/internal/audio"
	"github.com/ankogit/serenade/internal/codec"
	"github.com/ankogit/serenade/internal/session"
)

const opusSendTimeout = 100 * time.Millisecond

// voiceLink is the bot's connection to one voice channel
type voiceLink struct {
	guildID   string
	channelID string
	discord   *discordgo.Session
	vc        *discordgo.VoiceConnection
	encoders  *codec.EncoderPool
	logger    *logrus.Logger

	destroy sync.Once
}

// Speaking implements audio.Output
func (l *voiceLink) Speaking(speaking bool) error {
	if !l.Ready() {
		return fmt.Errorf("voice connection not ready")
	}
	return l.vc.Speaking(speaking)
}

// SendFrame implements audio.Output
func (l *voiceLink) SendFrame(frame []byte) error {
	if !l.Ready() {
		return fmt.Errorf("voice connection not ready")
	}

	select {
	case l.vc.OpusSend <- frame:
		return nil
	case <-time.After(opusSendTimeout):
		return fmt.Errorf("timeout sending opus frame")
	}
}

// Ready reports whether the voice connection is usable
func (l *voiceLink) Ready() bool {
	return l.vc != nil && l.vc.Status == discordgo.VoiceConnectionStatusReady
}

// Destroy leaves the voice channel and releases the guild's encoder
func (l *voiceLink) Destroy() {
	l.destroy.Do(func() {
		disconnectVoice(l.discord, l.vc, l.guildID, l.logger)
		l.encoders.Remove(l.guildID)
		l.logger.Infof("[%s] Left voice channel %s (%d encoders in use)", l.guildID, l.channelID, l.encoders.Len())
	})
}

// disconnectVoice removes vc from the session map before disconnecting it
func disconnectVoice(s *discordgo.Session, vc *discordgo.VoiceConnection, guildID string, logger *logrus.Logger) {
	// Remove from map first to prevent Kill() panic
	s.Lock()
	if current, exists := s.VoiceConnections[guildID]; exists && current == vc {
		delete(s.VoiceConnections, guildID)
	}
	s.Unlock()

	if vc == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("[%s] Panic during disconnect (ignored): %v", guildID, r)
		}
	}()
	_ = vc.Disconnect(ctx)
}

// joiner returns the JoinFunc for a guild's voice channel
func (b *Bot) joiner(guildID, channelID string) session.JoinFunc {
	return func(ctx context.Context) (session.VoiceLink, error) {
		vc, err := b.connectToChannel(ctx, guildID, channelID)
		if err != nil {
			return nil, err
		}
		return &voiceLink{
			guildID:   guildID,
			channelID: channelID,
			discord:   b.discord,
			vc:        vc,
			encoders:  b.encoderPool,
			logger:    b.logger,
		}, nil
	}
}

// connectToChannel connects to a voice channel and waits until it is ready
func (b *Bot) connectToChannel(ctx context.Context, guildID, channelID string) (*discordgo.VoiceConnection, error) {
	s := b.discord

	// A leftover connection from a previous session is never reused
	s.RLock()
	stale, exists := s.VoiceConnections[guildID]
	s.RUnlock()
	if exists {
		disconnectVoice(s, stale, guildID, b.logger)
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.VoiceJoinTimeout)
	defer cancel()

	// Connect to the channel with retry logic
	// mute=false, deaf=true (bot should not hear other users)
	var vc *discordgo.VoiceConnection
	var err error

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			s.RLock()
			existing, exists := s.VoiceConnections[guildID]
			s.RUnlock()
			if exists {
				disconnectVoice(s, existing, guildID, b.logger)
			}
		}

		vc, err = b.channelVoiceJoin(ctx, guildID, channelID)
		if err == nil && vc != nil {
			break
		}

		b.logger.Warnf("[%s] Voice join attempt %d failed: %v", guildID, attempt+1, err)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel after 3 attempts: %w", err)
	}
	if vc == nil {
		return nil, fmt.Errorf("voice connection is nil after join")
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if vc.Status == discordgo.VoiceConnectionStatusReady {
				b.logger.Infof("[%s] Connected to voice channel %s", guildID, channelID)
				return vc, nil
			}
		case <-ctx.Done():
			disconnectVoice(s, vc, guildID, b.logger)
			return nil, fmt.Errorf("timeout waiting for voice connection: %w", ctx.Err())
		}
	}
}

// channelVoiceJoin wraps ChannelVoiceJoin in recover to catch panics from the fork
func (b *Bot) channelVoiceJoin(ctx context.Context, guildID, channelID string) (vc *discordgo.VoiceConnection, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warnf("[%s] Panic during ChannelVoiceJoin: %v", guildID, r)

			b.discord.RLock()
			bad, exists := b.discord.VoiceConnections[guildID]
			b.discord.RUnlock()
			if exists {
				disconnectVoice(b.discord, bad, guildID, b.logger)
			}

			vc = nil
			err = fmt.Errorf("panic during join: %v", r)
		}
	}()

	return b.discord.ChannelVoiceJoin(ctx, guildID, channelID, false, true)
}

// newSink binds an audio player to a session's voice link
func (b *Bot) newSink(guildID string, link session.VoiceLink, listener audio.Listener) (session.Sink, error) {
	encoder, err := b.encoderPool.GetOrCreate(guildID)
	if err != nil {
		return nil, err
	}
	return audio.NewPlayer(guildID, link, encoder, listener, b.logger), nil
}
