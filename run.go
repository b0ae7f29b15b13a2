package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kapitanov/chip8/internal/beep"
	"github.com/kapitanov/chip8/internal/emulator"
	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/hal/ebitenhal"
	"github.com/kapitanov/chip8/internal/hal/headless"
	"github.com/kapitanov/chip8/internal/hal/sdlhal"
	"github.com/kapitanov/chip8/internal/hal/termhal"
	"github.com/kapitanov/chip8/internal/vm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	backendSDL      = "sdl"
	backendEbiten   = "ebiten"
	backendTerm     = "term"
	backendHeadless = "headless"

	defaultCycles = 1000
)

type runOptions struct {
	backend string
	cycles  int
	config  emulator.Config

	// seedSet is true when --seed was given; otherwise the clock seeds the machine.
	seedSet bool
}

func defaultRunOptions() *runOptions {
	return &runOptions{
		backend: backendSDL,
		cycles:  defaultCycles,
		config: emulator.Config{
			Clock: emulator.DefaultClock,
		},
	}
}

func bindRunFlags(fs *pflag.FlagSet, opts *runOptions) {
	fs.StringVar(&opts.backend, "backend", opts.backend, "host backend: sdl, ebiten, term or headless")
	fs.IntVar(&opts.config.Clock, "clock", opts.config.Clock, "instructions per second")
	fs.Uint64Var(&opts.config.Seed, "seed", opts.config.Seed, "seed for the random number instruction (default: current time)")
	fs.BoolVar(&opts.config.RealtimeTimers, "realtime-timers", false, "decrement timers at 60 Hz instead of once per instruction")
	fs.BoolVar(&opts.config.Quirks.LoadStoreIncrementsIndex, "quirk-load-store", false, "FX55/FX65 advance I past the last register")
	fs.BoolVar(&opts.config.Quirks.ShiftUsesVY, "quirk-shift-vy", false, "8XY6/8XYE shift VY into VX")
	fs.IntVar(&opts.config.Scale, "scale", 0, "window and screenshot scale factor")
	fs.IntVar(&opts.cycles, "cycles", opts.cycles, "number of instructions to execute (headless only)")
	fs.StringVar(&opts.config.ScreenshotPath, "screenshot", "", "PNG file to save the display to (F12, or at the end of a headless run)")
}

func newRunCmd() *cobra.Command {
	opts := defaultRunOptions()

	cmd := &cobra.Command{
		Use:   "run PATH_TO_ROM_FILE",
		Short: "Run a ROM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.seedSet = cmd.Flags().Changed("seed")
			return run(cmd.Context(), args[0], opts)
		},
	}

	bindRunFlags(cmd.Flags(), opts)
	return cmd
}

func run(ctx context.Context, path string, opts *runOptions) error {
	bs, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to load file %q: %w", path, err)
	}

	if !opts.seedSet {
		opts.config.Seed = uint64(time.Now().UnixNano())
	}
	slog.Info("random seed", "seed", opts.config.Seed)

	if opts.backend == backendHeadless {
		return runHeadless(ctx, bs, opts)
	}

	audio, closeAudio := openAudio(opts.backend)
	defer closeAudio()

	h, err := newHost(opts, audio)
	if err != nil {
		return fmt.Errorf("unable to initialize hal: %w", err)
	}
	defer h.Shutdown()

	runner, err := emulator.New(h, bs, opts.config)
	if err != nil {
		return err
	}

	return runner.Run(ctx)
}

func runHeadless(ctx context.Context, bs []byte, opts *runOptions) error {
	h := headless.New()

	runner, err := emulator.New(h, bs, opts.config)
	if err != nil {
		return err
	}

	if err := runner.RunCycles(ctx, opts.cycles); err != nil {
		return err
	}

	machine := runner.Machine()
	slog.Info("headless run finished",
		"cycles", runner.Cycles(),
		"pc", fmt.Sprintf("0x%04x", machine.PC()),
		"status", machine.Status(),
		"beeps", h.Beeps())

	if opts.config.ScreenshotPath != "" {
		return runner.Screenshot()
	}
	return nil
}

func newHost(opts *runOptions, audio vm.Audio) (hal.Host, error) {
	switch opts.backend {
	case backendSDL:
		h, err := sdlhal.New(sdlhal.Options{Scale: opts.config.Scale, Audio: audio})
		if err != nil {
			return nil, err
		}
		return h, nil

	case backendEbiten:
		return ebitenhal.New(ebitenhal.Options{Scale: opts.config.Scale, Audio: audio}), nil

	case backendTerm:
		h, err := termhal.New(termhal.Options{})
		if err != nil {
			return nil, err
		}
		return h, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", opts.backend)
	}
}

// openAudio opens the tone player for windowed backends. A machine without
// a sound device still runs, it just stays silent.
func openAudio(backend string) (vm.Audio, func()) {
	if backend != backendSDL && backend != backendEbiten {
		return nil, func() {}
	}

	player, err := beep.New(beep.DefaultPitch, beep.DefaultLength)
	if err != nil {
		slog.Warn("audio disabled", "err", err)
		return nil, func() {}
	}

	return player, func() {
		if err := player.Close(); err != nil {
			slog.Error("failed to close audio player", "err", err)
		}
	}
}
