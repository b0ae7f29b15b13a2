// Package emulator drives a CHIP-8 machine against a host at a fixed clock.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/screenshot"
	"github.com/kapitanov/chip8/internal/vm"
)

const (
	DefaultClock = 700 // instructions per second
	FrameRate    = 60
)

type Config struct {
	// Clock is the number of instructions executed per second.
	Clock int
	Seed  uint64

	RealtimeTimers bool
	Quirks         vm.Quirks

	// ScreenshotPath is where the display is saved on request.
	ScreenshotPath string
	Scale          int
}

// Runner owns a machine and feeds it one frame's worth of instructions
// per display refresh.
type Runner struct {
	cfg      Config
	host     hal.Host
	machine  *vm.VM
	perFrame int

	idle   bool
	halt   error
	cycles int
}

func New(host hal.Host, program []byte, cfg Config) (*Runner, error) {
	if cfg.Clock <= 0 {
		cfg.Clock = DefaultClock
	}

	machine := vm.New(vm.Options{
		Display:        host,
		Audio:          host,
		Keypad:         host,
		Seed:           cfg.Seed,
		RealtimeTimers: cfg.RealtimeTimers,
		Quirks:         cfg.Quirks,
	})
	if err := machine.Load(program); err != nil {
		return nil, err
	}

	return &Runner{
		cfg:      cfg,
		host:     host,
		machine:  machine,
		perFrame: max(cfg.Clock/FrameRate, 1),
	}, nil
}

func (r *Runner) Machine() *vm.VM { return r.machine }

// Err returns the error that halted the machine, or nil while it runs.
func (r *Runner) Err() error { return r.halt }

// Cycles reports how many instructions have executed since the last reboot.
func (r *Runner) Cycles() int { return r.cycles }

// Run calls Frame at FrameRate until the user quits, ctx is cancelled or
// the host fails. Hosts implementing hal.Looper own the loop instead.
// When the machine halted and was not rebooted, Run returns the halting error.
func (r *Runner) Run(ctx context.Context) error {
	if looper, ok := r.host.(hal.Looper); ok {
		err := looper.Loop(func() error {
			if ctx.Err() != nil {
				return hal.ErrQuit
			}
			return r.Frame()
		})
		return r.finish(err)
	}

	ticker := time.NewTicker(time.Second / FrameRate)
	defer ticker.Stop()

	for {
		if err := r.Frame(); err != nil {
			return r.finish(err)
		}

		select {
		case <-ctx.Done():
			slog.Debug("emulator: context done", "err", ctx.Err())
			return r.halt
		case <-ticker.C:
		}
	}
}

// Frame handles pending host events and then executes one frame of
// instructions. It stops early when the program waits for a key.
// A machine error halts stepping; the host keeps being served so the user
// can still reboot or quit.
func (r *Runner) Frame() error {
	if err := r.host.PollEvents(); err != nil {
		switch {
		case errors.Is(err, hal.ErrReboot):
			r.reboot()
			return nil
		case errors.Is(err, hal.ErrScreenshot):
			if err := r.Screenshot(); err != nil {
				return err
			}
		default:
			return err
		}
	}

	if r.halt != nil {
		return nil
	}

	if r.idle {
		// A looping program may still be waiting for its tone to end.
		return r.haltOn(r.tick())
	}

	for i := 0; i < r.perFrame; i++ {
		status, err := r.step()
		if err != nil {
			return r.haltOn(err)
		}
		if status != vm.StatusExecuted {
			break
		}
	}

	if r.cfg.RealtimeTimers {
		return r.haltOn(r.tick())
	}
	return nil
}

func (r *Runner) haltOn(err error) error {
	if err == nil {
		return nil
	}

	slog.Error("machine halted, press Backspace to reboot", "err", err)
	r.halt = err
	return nil
}

// RunCycles executes n instructions without pacing, as a headless run does.
// Real-time timers tick once per frame's worth of instructions. Machine
// errors are returned since there is no host to keep alive.
func (r *Runner) RunCycles(ctx context.Context, n int) error {
	for i := 0; i < n && !r.idle; i++ {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := r.step(); err != nil {
			return err
		}

		if r.cfg.RealtimeTimers && (i+1)%r.perFrame == 0 {
			if err := r.tick(); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Runner) step() (vm.Status, error) {
	pc := r.machine.PC()

	status, err := r.machine.Step()
	if err != nil {
		return status, fmt.Errorf("machine halted at 0x%04x: %w", pc, err)
	}

	if status != vm.StatusAwaitingKey {
		r.cycles++
	}

	if status == vm.StatusIdle {
		slog.Info("program looped", "pc", fmt.Sprintf("0x%04x", pc), "cycles", r.cycles)
		r.idle = true
	}

	return status, nil
}

func (r *Runner) tick() error {
	return r.machine.TickTimers()
}

func (r *Runner) reboot() {
	slog.Info("reboot")
	r.machine.Reset()
	r.idle = false
	r.halt = nil
	r.cycles = 0
}

// Screenshot saves the current display to the configured path.
func (r *Runner) Screenshot() error {
	if r.cfg.ScreenshotPath == "" {
		slog.Warn("screenshot requested but no path is configured")
		return nil
	}

	return screenshot.Save(r.cfg.ScreenshotPath, r.machine.Frame(), r.cfg.Scale)
}

func (r *Runner) finish(err error) error {
	if errors.Is(err, hal.ErrQuit) {
		slog.Debug("emulator: quit")
		return r.halt
	}
	return err
}
