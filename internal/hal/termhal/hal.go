// Package termhal renders the CHIP-8 display with half-block characters in
// an ANSI terminal and reads the keypad from raw stdin.
package termhal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/vm"
	"golang.org/x/term"
)

// Terminals report key presses only. A key counts as held until no repeat
// for it has arrived within HoldTime, so it must outlast the autorepeat
// delay (X11 defaults to 660ms). A single tap stays down that long too.
const DefaultHoldTime = 700 * time.Millisecond

const (
	ctrlC     = 0x03
	ctrlP     = 0x10
	backspace = 0x08
	escape    = 0x1b
	del       = 0x7f
)

const (
	clearScreen = "\x1b[2J"
	cursorHome  = "\x1b[H"
	hideCursor  = "\x1b[?25l"
	showCursor  = "\x1b[?25h"
	foreground  = "\x1b[33m"
	resetColor  = "\x1b[0m"
)

type Options struct {
	In       io.Reader
	Out      io.Writer
	HoldTime time.Duration
}

type HAL struct {
	in  io.Reader
	out io.Writer

	fd       int
	oldState *term.State

	keys     hal.KeyState
	holdTime time.Duration
	now      func() time.Time

	mu       sync.Mutex
	pressed  [vm.KeyCount]time.Time
	requests chan error

	buf bytes.Buffer
}

var _ hal.Host = (*HAL)(nil)

// New puts the terminal into raw mode when In is a terminal and starts
// reading key presses in the background.
func New(opts Options) (*HAL, error) {
	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	holdTime := opts.HoldTime
	if holdTime <= 0 {
		holdTime = DefaultHoldTime
	}

	h := &HAL{
		in:       in,
		out:      out,
		fd:       -1,
		holdTime: holdTime,
		now:      time.Now,
		requests: make(chan error, 1),
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		h.fd = int(f.Fd())
		state, err := term.MakeRaw(h.fd)
		if err != nil {
			return nil, fmt.Errorf("failed to enter raw mode: %w", err)
		}
		h.oldState = state
		slog.Debug("hal: terminal in raw mode", "fd", h.fd)
	}

	if _, err := io.WriteString(h.out, clearScreen+hideCursor); err != nil {
		h.restore()
		return nil, fmt.Errorf("failed to prepare terminal: %w", err)
	}

	go h.readLoop()
	return h, nil
}

func (h *HAL) readLoop() {
	buf := make([]byte, 64)
	for {
		n, err := h.in.Read(buf)
		for _, b := range buf[:n] {
			h.handleByte(b)
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Error("failed to read terminal input", "err", err)
			}
			return
		}
	}
}

func (h *HAL) handleByte(b byte) {
	switch b {
	case ctrlC, escape:
		h.request(hal.ErrQuit)
		return
	case backspace, del:
		h.request(hal.ErrReboot)
		return
	case ctrlP:
		h.request(hal.ErrScreenshot)
		return
	}

	key, ok := hal.LookupKey(rune(b))
	if !ok {
		return
	}

	h.mu.Lock()
	h.pressed[key] = h.now()
	h.mu.Unlock()

	h.keys.Press(key)
}

func (h *HAL) request(err error) {
	select {
	case h.requests <- err:
	default:
		// a request is already pending
	}
}

// PollEvents releases keys that stopped repeating and returns the pending
// control request, if any.
func (h *HAL) PollEvents() error {
	now := h.now()

	h.mu.Lock()
	for key, at := range h.pressed {
		if !at.IsZero() && now.Sub(at) >= h.holdTime {
			h.pressed[key] = time.Time{}
			h.keys.Release(vm.Key(key))
		}
	}
	h.mu.Unlock()

	select {
	case err := <-h.requests:
		return err
	default:
		return nil
	}
}

func (h *HAL) Keys() [vm.KeyCount]bool {
	return h.keys.Keys()
}

func (h *HAL) Beep() error {
	_, err := io.WriteString(h.out, "\a")
	return err
}

// Draw packs two display rows into one line of text.
func (h *HAL) Draw(frame *vm.Frame) error {
	h.buf.Reset()
	h.buf.WriteString(cursorHome)
	h.buf.WriteString(foreground)

	for y := 0; y < vm.ScreenHeight; y += 2 {
		for x := 0; x < vm.ScreenWidth; x++ {
			h.buf.WriteString(halfBlock(frame.At(x, y), frame.At(x, y+1)))
		}
		h.buf.WriteString("\r\n")
	}
	h.buf.WriteString(resetColor)

	if _, err := h.out.Write(h.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func halfBlock(top, bottom bool) string {
	switch {
	case top && bottom:
		return "█"
	case top:
		return "▀"
	case bottom:
		return "▄"
	default:
		return " "
	}
}

func (h *HAL) Shutdown() {
	if _, err := io.WriteString(h.out, resetColor+showCursor+"\r\n"); err != nil {
		slog.Error("failed to reset terminal", "err", err)
	}
	h.restore()
}

func (h *HAL) restore() {
	if h.oldState == nil {
		return
	}

	if err := term.Restore(h.fd, h.oldState); err != nil {
		slog.Error("failed to restore terminal", "err", err)
	}
	h.oldState = nil
}
