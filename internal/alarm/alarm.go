// Package alarm plays the microsleep warning until it is acknowledged.
package alarm

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// minCycle keeps a command that exits immediately from spinning.
const minCycle = 200 * time.Millisecond

// bellInterval is the gap between terminal bells when no command is set.
const bellInterval = time.Second

// Actuator starts and stops the audible warning.
type Actuator interface {
	Play() error
	Stop() error
	Playing() bool
}

// Player repeats an external command (for example "aplay alarm.wav") until
// stopped. Without a command it rings the terminal bell on out instead.
// Play and Stop are idempotent and safe for concurrent use.
type Player struct {
	name string
	args []string
	out  io.Writer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	log    *log.Entry
}

// NewPlayer creates a player for command, split on whitespace.
func NewPlayer(command string, out io.Writer) *Player {
	p := &Player{
		out: out,
		log: log.WithField("component", "alarm"),
	}
	if fields := strings.Fields(command); len(fields) > 0 {
		p.name, p.args = fields[0], fields[1:]
	}
	return p
}

// Play starts the alarm loop. It is a no-op while already playing.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}
	if p.name != "" {
		if _, err := exec.LookPath(p.name); err != nil {
			p.log.Warnf("alarm command %q not found, falling back to bell: %v", p.name, err)
			p.name = ""
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)

	p.log.Info("alarm started")
	return nil
}

// Stop ends the alarm and waits for the running command to exit.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return nil
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil

	p.log.Info("alarm stopped")
	return nil
}

// Playing reports whether the alarm loop is running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Close stops the alarm.
func (p *Player) Close() error {
	return p.Stop()
}

func (p *Player) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		wait := bellInterval
		if p.name == "" {
			if p.out != nil {
				_, _ = io.WriteString(p.out, "\a")
			}
		} else {
			start := time.Now()
			cmd := exec.CommandContext(ctx, p.name, p.args...)
			if err := cmd.Run(); err != nil && ctx.Err() == nil {
				p.log.Warnf("alarm command failed: %v", err)
			} else {
				wait = minCycle - time.Since(start)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
