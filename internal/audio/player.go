// Package audio loops alarm sounds until they are stopped.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dosebox/pkg/logx"
)

// Player plays at most one looping sound at a time.
type Player interface {
	// Loop starts name, replacing whatever is playing.
	Loop(name string) error
	Stop()
}

type Config struct {
	Player   string // "exec" or "nop"
	Command  string
	Args     []string
	SoundDir string
}

// New returns the player selected by cfg.Player.
func New(cfg Config, log logx.Logger) (Player, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Player)) {
	case "", "nop":
		return Nop{}, nil
	case "exec":
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, errors.New("audio: exec player needs a command")
		}
		return NewExec(cfg, log), nil
	default:
		return nil, fmt.Errorf("audio: unknown player %q", cfg.Player)
	}
}

// Nop plays nothing.
type Nop struct{}

func (Nop) Loop(string) error { return nil }
func (Nop) Stop()             {}

// ExecPlayer runs an external command (e.g. aplay, paplay) for
// <SoundDir>/<name>.wav and restarts it each time it exits.
type ExecPlayer struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	current string
}

func NewExec(cfg Config, log logx.Logger) *ExecPlayer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecPlayer{cfg: cfg, log: log.With(logx.String("comp", "audio"))}
}

func (p *ExecPlayer) path(name string) string {
	return filepath.Join(p.cfg.SoundDir, name+".wav")
}

func (p *ExecPlayer) Loop(name string) error {
	file := p.path(name)
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("audio: %w", err)
	}

	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel, p.done, p.current = cancel, done, name
	p.mu.Unlock()

	go p.run(ctx, done, file)
	p.log.Debug("sound started", logx.String("sound", name))
	return nil
}

func (p *ExecPlayer) run(ctx context.Context, done chan struct{}, file string) {
	defer close(done)
	args := append(append([]string(nil), p.cfg.Args...), file)
	for ctx.Err() == nil {
		started := time.Now()
		err := exec.CommandContext(ctx, p.cfg.Command, args...).Run()
		if ctx.Err() != nil {
			return
		}
		// A player that exits immediately would otherwise spin.
		if err != nil || time.Since(started) < 200*time.Millisecond {
			if err != nil {
				p.log.Warn("sound command failed", logx.String("file", file), logx.Err(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// Current returns the sound currently looping, or "".
func (p *ExecPlayer) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	cancel, done, cur := p.cancel, p.done, p.current
	p.cancel, p.done, p.current = nil, nil, ""
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.log.Debug("sound stopped", logx.String("sound", cur))
}
