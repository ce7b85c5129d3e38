package audio

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"dosebox/pkg/logx"
)

func TestNewSelectsPlayer(t *testing.T) {
	t.Parallel()
	if p, err := New(Config{}, logx.Nop()); err != nil {
		t.Fatalf("default: %v", err)
	} else if _, ok := p.(Nop); !ok {
		t.Fatalf("default player %T", p)
	}
	if _, err := New(Config{Player: "exec"}, logx.Nop()); err == nil {
		t.Fatal("exec without command should fail")
	}
	if _, err := New(Config{Player: "vlc"}, logx.Nop()); err == nil {
		t.Fatal("unknown player should fail")
	}
}

func TestExecLoopAndStop(t *testing.T) {
	t.Parallel()
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	dir := t.TempDir()
	for _, n := range []string{"alarm_one", "alarm_two"} {
		if err := os.WriteFile(filepath.Join(dir, n+".wav"), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	// "sleep 10 <file>" fails fast on the extra arg on some platforms; either
	// way the loop keeps running until stopped.
	p := NewExec(Config{Command: sleep, Args: []string{"10"}, SoundDir: dir}, logx.Nop())

	if err := p.Loop("alarm_one"); err != nil {
		t.Fatalf("loop: %v", err)
	}
	if got := p.Current(); got != "alarm_one" {
		t.Fatalf("current=%q", got)
	}
	if err := p.Loop("alarm_two"); err != nil {
		t.Fatalf("loop: %v", err)
	}
	if got := p.Current(); got != "alarm_two" {
		t.Fatalf("current=%q", got)
	}
	p.Stop()
	p.Stop()
	if got := p.Current(); got != "" {
		t.Fatalf("current after stop=%q", got)
	}
}

func TestExecMissingSound(t *testing.T) {
	t.Parallel()
	p := NewExec(Config{Command: "true", SoundDir: t.TempDir()}, logx.Nop())
	if err := p.Loop("nope"); err == nil {
		t.Fatal("expected missing file error")
	}
	if p.Current() != "" {
		t.Fatal("failed loop should not be current")
	}
}
