// Package source turns track references into raw PCM streams by running
// yt-dlp piped into ffmpeg.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/sirupsen/logrus"

	"github.com/ankogit/serenade/internal/audio"
)

const stderrLimit = 4096

// Config holds the executables and termination policy for sources
type Config struct {
	YtdlpPath      string
	FFmpegPath     string
	TerminateGrace time.Duration
}

// Ytdlp starts one yt-dlp | ffmpeg pipeline per track
type Ytdlp struct {
	config Config
	logger *logrus.Logger
}

// NewYtdlp creates a new yt-dlp backed source
func NewYtdlp(cfg Config, logger *logrus.Logger) *Ytdlp {
	return &Ytdlp{
		config: cfg,
		logger: logger,
	}
}

// Start launches the pipeline for ref and returns the PCM stream (s16le,
// 48kHz, stereo). It does not wait for any audio to be produced.
func (y *Ytdlp) Start(ref string) (io.ReadCloser, Handle, error) {
	dl := ytdlp.New().
		Format("bestaudio/best").
		Output("-").
		NoPlaylist().
		NoPart().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if y.config.YtdlpPath != "" {
		dl.SetExecutable(y.config.YtdlpPath)
	}

	// Termination is driven by Process, not by context cancellation
	download := dl.BuildCommand(context.Background(), ref)
	download.Stderr = &tailBuffer{limit: stderrLimit}

	decode := exec.Command(y.config.FFmpegPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-loglevel", "warning",
		"pipe:1",
	)
	decode.Stderr = &tailBuffer{limit: stderrLimit}

	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Not decode.StdoutPipe: Wait would close it under the reader
	outR, outW, err := os.Pipe()
	if err != nil {
		pipeR.Close()
		pipeW.Close()
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	download.Stdout = pipeW
	decode.Stdin = pipeR
	decode.Stdout = outW

	closeParentEnds := func() {
		pipeR.Close()
		pipeW.Close()
		outW.Close()
	}

	if err := download.Start(); err != nil {
		closeParentEnds()
		outR.Close()
		return nil, nil, fmt.Errorf("failed to start yt-dlp: %w", err)
	}

	if err := decode.Start(); err != nil {
		closeParentEnds()
		outR.Close()
		_ = download.Process.Kill()
		_ = download.Wait()
		return nil, nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// The children hold their own copies; ours would keep the pipes alive
	closeParentEnds()

	y.logger.Debugf("Started source pipeline for %s (yt-dlp pid %d, ffmpeg pid %d)",
		ref, download.Process.Pid, decode.Process.Pid)

	return outR, Watch(y.config.TerminateGrace, download, decode), nil
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
