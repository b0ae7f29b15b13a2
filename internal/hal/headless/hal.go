// Package headless provides a host without a window, used for batch runs
// and screenshots.
package headless

import (
	"sync"

	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/vm"
)

// HAL keeps the last frame and counts beeps. Keys pressed with Press stay
// down until Release.
type HAL struct {
	keys hal.KeyState

	mu     sync.Mutex
	frame  vm.Frame
	frames int
	beeps  int
}

var _ hal.Host = (*HAL)(nil)

func New() *HAL {
	return &HAL{}
}

func (h *HAL) Draw(frame *vm.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.frame = *frame
	h.frames++
	return nil
}

func (h *HAL) Beep() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.beeps++
	return nil
}

func (h *HAL) Keys() [vm.KeyCount]bool {
	return h.keys.Keys()
}

func (h *HAL) Press(key vm.Key)   { h.keys.Press(key) }
func (h *HAL) Release(key vm.Key) { h.keys.Release(key) }

func (h *HAL) PollEvents() error { return nil }

func (h *HAL) Shutdown() {}

// Frame returns the last frame drawn.
func (h *HAL) Frame() vm.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.frame
}

func (h *HAL) Frames() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.frames
}

func (h *HAL) Beeps() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.beeps
}
