package bot

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ankogit/serenade/internal/session"
)

// requests remembers which text channel asked for each track, so a track
// that fails later can be reported where it was requested
type requests struct {
	guilds map[string]*guildRequests
	mu     sync.Mutex
}

type guildRequests struct {
	session  uuid.UUID
	channels map[string]string // track ref -> text channel
}

func newRequests() *requests {
	return &requests{guilds: make(map[string]*guildRequests)}
}

// remember records channelID for ref in sess. It reports whether sess is
// new to the table; the caller then arranges for forget once it closes.
func (r *requests) remember(sess *session.Session, ref, channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, exists := r.guilds[sess.GuildID()]
	fresh := !exists || g.session != sess.ID()
	if fresh {
		g = &guildRequests{session: sess.ID(), channels: make(map[string]string)}
		r.guilds[sess.GuildID()] = g
	}
	g.channels[ref] = channelID
	return fresh
}

// take returns and forgets the channel that requested ref
func (r *requests) take(guildID, ref string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, exists := r.guilds[guildID]
	if !exists {
		return "", false
	}
	channelID, exists := g.channels[ref]
	delete(g.channels, ref)
	return channelID, exists
}

// forget drops everything recorded for sess, unless a newer session replaced it
func (r *requests) forget(sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, exists := r.guilds[sess.GuildID()]; exists && g.session == sess.ID() {
		delete(r.guilds, sess.GuildID())
	}
}

// track records the request and clears the session's entries when it ends
func (b *Bot) track(sess *session.Session, ref, channelID string) {
	if !b.requests.remember(sess, ref, channelID) {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-sess.Done()
		b.requests.forget(sess)
	}()
}

// onTrackFailed tells the requesting channel that a queued track was skipped
func (b *Bot) onTrackFailed(guildID, ref string, err error) {
	b.logger.WithError(err).Warnf("[%s] Skipped %s", guildID, ref)

	channelID, exists := b.requests.take(guildID, ref)
	if !exists {
		return
	}
	b.reply(channelID, fmt.Sprintf(replyTrackSkipped, ref))
}
