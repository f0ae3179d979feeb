package bot

import (
	"time"
)

// readiness is implemented by voice links that can report their connection state
type readiness interface {
	Ready() bool
}

// voiceCheckLoop periodically ends sessions whose voice connection died
func (b *Bot) voiceCheckLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.VoiceCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.checkVoiceConnections()
		}
	}
}

// checkVoiceConnections treats a link that is no longer ready as a disconnect
func (b *Bot) checkVoiceConnections() {
	for _, sess := range b.registry.Sessions() {
		link, ok := sess.Link().(readiness)
		if !ok || link.Ready() {
			continue
		}

		b.logger.Infof("[%s] voice_check_loop: detected dead vc -> ending session %s", sess.GuildID(), sess.ID())
		sess.Disconnected()
	}
}
