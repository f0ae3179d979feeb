package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/ankogit/serenade/internal/session"
)

const (
	replyNoURL         = "Please provide a URL."
	replyNotInVoice    = "You must be in a voice channel!"
	replyNothing       = "Nothing is playing right now!"
	replySkipping      = "Skipping the current track..."
	replyStopped       = "Playback stopped and disconnected."
	replyJoinFailed    = "I couldn't join your voice channel."
	replySourceFailed  = "I couldn't load that track."
	replyTrackSkipped  = "Couldn't play %s, skipping it."
	replyThrottled     = "Slow down, too many commands."
	replyUnexpectedErr = "Something went wrong."
)

const (
	resultOK        = "ok"
	resultRejected  = "rejected"
	resultError     = "error"
	resultThrottled = "throttled"
)

type commandFunc func(s *discordgo.Session, m *discordgo.MessageCreate, arg string) string

func (b *Bot) commands() map[string]commandFunc {
	return map[string]commandFunc{
		"play":  b.handlePlay,
		"p":     b.handlePlay,
		"skip":  b.handleSkip,
		"stop":  b.handleStop,
		"queue": b.handleQueue,
	}
}

// handlePlay handles the !play command
func (b *Bot) handlePlay(s *discordgo.Session, m *discordgo.MessageCreate, url string) string {
	guildID := m.GuildID

	if url == "" {
		b.reply(m.ChannelID, replyNoURL)
		return resultRejected
	}

	// Check if user is in a voice channel
	vs, err := s.State.VoiceState(guildID, m.Author.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		b.reply(m.ChannelID, replyNotInVoice)
		return resultRejected
	}

	state, sess, err := b.registry.Enqueue(b.ctx, guildID, url, b.joiner(guildID, vs.ChannelID))
	if err != nil {
		b.logger.WithError(err).Errorf("[%s] Failed to enqueue %s", guildID, url)
		b.reply(m.ChannelID, errorReply(err))
		return resultError
	}

	b.track(sess, url, m.ChannelID)

	b.logger.Infof("[%s] %s %s in session %s", guildID, state, url, sess.ID())
	if state == session.Started {
		b.reply(m.ChannelID, "Now streaming: "+url)
	} else {
		b.reply(m.ChannelID, "Added to queue: "+url)
	}
	return resultOK
}

// handleSkip handles the !skip command
func (b *Bot) handleSkip(s *discordgo.Session, m *discordgo.MessageCreate, _ string) string {
	sess, exists := b.registry.Get(m.GuildID)
	if !exists {
		b.reply(m.ChannelID, replyNothing)
		return resultRejected
	}

	if err := sess.Skip(); err != nil {
		b.reply(m.ChannelID, errorReply(err))
		return resultRejected
	}

	b.reply(m.ChannelID, replySkipping)
	return resultOK
}

// handleStop handles the !stop command
func (b *Bot) handleStop(s *discordgo.Session, m *discordgo.MessageCreate, _ string) string {
	sess, exists := b.registry.Get(m.GuildID)
	if !exists {
		b.reply(m.ChannelID, replyNothing)
		return resultRejected
	}

	if err := sess.Stop(); err != nil {
		b.reply(m.ChannelID, errorReply(err))
		return resultRejected
	}

	b.reply(m.ChannelID, replyStopped)
	return resultOK
}

// handleQueue handles the !queue command
func (b *Bot) handleQueue(s *discordgo.Session, m *discordgo.MessageCreate, _ string) string {
	sess, exists := b.registry.Get(m.GuildID)
	if !exists {
		b.reply(m.ChannelID, replyNothing)
		return resultRejected
	}

	b.reply(m.ChannelID, formatQueue(sess.Snapshot()))
	return resultOK
}

func formatQueue(snap session.Snapshot) string {
	if snap.NowPlaying == "" && len(snap.Queue) == 0 {
		return replyNothing
	}

	var sb strings.Builder
	if snap.NowPlaying != "" {
		fmt.Fprintf(&sb, "Now streaming: %s", snap.NowPlaying)
	}
	if len(snap.Queue) == 0 {
		return sb.String()
	}

	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("Up next:")
	for i, ref := range snap.Queue {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, ref)
	}
	return sb.String()
}

// errorReply maps a session error to the message shown in chat
func errorReply(err error) string {
	switch {
	case errors.Is(err, session.ErrNotPlaying), errors.Is(err, session.ErrSessionGone):
		return replyNothing
	case errors.Is(err, session.ErrEmptyTrackRef):
		return replyNoURL
	case errors.Is(err, session.ErrVoiceJoinFailed):
		return replyJoinFailed
	case errors.Is(err, session.ErrSourceUnavailable):
		return replySourceFailed
	default:
		return replyUnexpectedErr
	}
}

func (b *Bot) reply(channelID, content string) {
	if _, err := b.discord.ChannelMessageSend(channelID, content); err != nil {
		b.logger.WithError(err).Warnf("Failed to send message to channel %s", channelID)
	}
}
