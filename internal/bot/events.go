package bot

import (
	"runtime/debug"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// onReady handles the ready event
func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Infof("Bot ready as %s (ID: %s)", event.User.Username, event.User.ID)

	// Ready fires again after a gateway reconnect; one watchdog is enough
	b.watchdog.Do(func() {
		b.wg.Add(1)
		go b.voiceCheckLoop()
	})
}

// onMessageCreate handles message creation events
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from bots and direct messages
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	name, arg, ok := parseCommand(m.Content, b.config.CommandPrefix)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("panic", r).
				WithField("stack", string(debug.Stack())).
				Errorf("[%s] Panic handling command %q", m.GuildID, name)
		}
	}()

	handler, exists := b.commands()[name]
	if !exists {
		return
	}

	if !b.throttle.Allow(m.GuildID) {
		b.metrics.Command(name, resultThrottled)
		b.reply(m.ChannelID, replyThrottled)
		return
	}

	result := handler(s, m, arg)
	b.metrics.Command(name, result)
}

// onVoiceStateUpdate ends the session when the bot is removed from voice
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil || v.UserID != s.State.User.ID {
		return
	}

	// Moving between channels keeps the connection
	if v.ChannelID != "" {
		return
	}

	if sess, exists := b.registry.Get(v.GuildID); exists {
		b.logger.Infof("[%s] Bot left voice, ending session %s", v.GuildID, sess.ID())
		sess.Disconnected()
	}
}

// parseCommand splits "<prefix><name> <arg>" into a lowercase name and its argument
func parseCommand(content, prefix string) (name, arg string, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}

	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", "", false
	}

	name = strings.ToLower(fields[0])
	if len(fields) > 1 {
		arg = fields[1]
	}
	return name, arg, true
}
