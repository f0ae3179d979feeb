package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ankogit/serenade/internal/bot"
	"github.com/ankogit/serenade/internal/config"
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warnf("Unknown log level %q, keeping info", cfg.LogLevel)
	} else {
		logger.SetLevel(level)
	}

	// Run bot with automatic restart on panic
	// This handles panics from discordgo fork
	runBotWithRecovery(cfg, logger)
}

func runBotWithRecovery(cfg *config.Config, logger *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		err := runBot(cfg, logger, sigChan)
		if err == nil {
			return
		}

		logger.Warnf("Bot crashed, waiting 5 seconds before restart: %v", err)
		select {
		case <-time.After(5 * time.Second):
		case <-sigChan:
			return
		}
	}
}

// runBot runs one bot instance until a signal arrives (nil) or it panics (error)
func runBot(cfg *config.Config, logger *logrus.Logger, sigChan <-chan os.Signal) (err error) {
	var discordBot *bot.Bot

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).
				WithField("stack", string(debug.Stack())).
				Error("CRITICAL: Panic caught (bug in discordgo fork) - restarting bot")

			// Clean up bot if it exists
			if discordBot != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							logger.WithField("panic", r).Error("Panic during bot cleanup, ignoring")
						}
					}()
					_ = discordBot.Stop()
				}()
			}

			err = fmt.Errorf("panic: %v", r)
		}
	}()

	discordBot, err = bot.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create bot")
	}

	if err := discordBot.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start bot")
	}

	// Wait for interrupt
	<-sigChan

	// Stop gracefully
	if err := discordBot.Stop(); err != nil {
		logger.WithError(err).Error("Error stopping bot")
	} else {
		logger.Info("Bot stopped successfully")
	}
	return nil
}
