package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/ankogit/serenade/internal/codec"
	"github.com/ankogit/serenade/internal/config"
	"github.com/ankogit/serenade/internal/metrics"
	"github.com/ankogit/serenade/internal/session"
	"github.com/ankogit/serenade/internal/source"
)

const shutdownTimeout = 10 * time.Second

// Bot represents the Discord bot
type Bot struct {
	discord     *discordgo.Session
	config      *config.Config
	registry    *session.Registry
	encoderPool *codec.EncoderPool
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	throttle    *throttle
	requests    *requests
	httpServer  *http.Server
	watchdog    sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *logrus.Logger
}

// New creates a new bot instance
func New(cfg *config.Config, logger *logrus.Logger) (*Bot, error) {
	discord, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	ctx, cancel := context.WithCancel(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bot := &Bot{
		discord:     discord,
		config:      cfg,
		encoderPool: codec.NewEncoderPool(),
		metrics:     metrics.New(reg),
		gatherer:    reg,
		throttle:    newThrottle(cfg.CommandRate, cfg.CommandBurst),
		requests:    newRequests(),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}

	bot.registry = session.NewRegistry(session.Options{
		Source: source.NewYtdlp(source.Config{
			YtdlpPath:      cfg.YtdlpPath,
			FFmpegPath:     cfg.FFmpegPath,
			TerminateGrace: cfg.TerminateGrace,
		}, logger),
		NewSink:       bot.newSink,
		Metrics:       bot.metrics,
		Logger:        logger,
		OnTrackFailed: bot.onTrackFailed,
	})

	// Register event handlers
	discord.AddHandler(bot.onReady)
	discord.AddHandler(bot.onMessageCreate)
	discord.AddHandler(bot.onVoiceStateUpdate)

	return bot, nil
}

// Start starts the bot
func (b *Bot) Start() error {
	err := b.discord.Open()
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	if b.config.MetricsAddr != "" {
		b.serveMetrics(b.config.MetricsAddr)
	}

	b.logger.Info("Bot started successfully")
	return nil
}

func (b *Bot) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(b.gatherer))

	b.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.Infof("Serving metrics on %s", addr)
		if err := b.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.WithError(err).Error("Metrics server failed")
		}
	}()
}

// Stop stops the bot gracefully
func (b *Bot) Stop() error {
	b.logger.Info("Shutting down...")

	// Cancel context to stop all goroutines
	b.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Tear down every session before the gateway goes away
	if err := b.registry.Shutdown(ctx); err != nil {
		b.logger.WithError(err).Warn("Sessions did not shut down cleanly")
	}

	if b.httpServer != nil {
		if err := b.httpServer.Shutdown(ctx); err != nil {
			b.logger.WithError(err).Warn("Error stopping metrics server")
		}
	}

	// Close Discord session
	err := b.discord.Close()
	if err != nil {
		b.logger.WithError(err).Error("Error closing Discord session")
	}

	// Wait for all goroutines to finish
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("All goroutines finished")
	case <-ctx.Done():
		b.logger.Warn("Timeout waiting for goroutines to finish")
	}

	return nil
}
