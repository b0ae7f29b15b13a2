// Package ebitenhal runs the emulator inside an Ebitengine window.
package ebitenhal

import (
	"errors"
	"log/slog"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/vm"
)

const DefaultScale = 16

var (
	bgColor = [4]byte{0x00, 0x00, 0x00, 0xff}
	fgColor = [4]byte{0xbe, 0xa7, 0x00, 0xff}
)

var keyMap = map[ebiten.Key]vm.Key{
	ebiten.KeyDigit1: vm.Key1, ebiten.KeyDigit2: vm.Key2, ebiten.KeyDigit3: vm.Key3, ebiten.KeyDigit4: vm.KeyC,
	ebiten.KeyQ: vm.Key4, ebiten.KeyW: vm.Key5, ebiten.KeyE: vm.Key6, ebiten.KeyR: vm.KeyD,
	ebiten.KeyA: vm.Key7, ebiten.KeyS: vm.Key8, ebiten.KeyD: vm.Key9, ebiten.KeyF: vm.KeyE,
	ebiten.KeyZ: vm.KeyA, ebiten.KeyX: vm.Key0, ebiten.KeyC: vm.KeyB, ebiten.KeyV: vm.KeyF,
}

type Options struct {
	Scale int
	Audio vm.Audio
}

// HAL is a hal.Host whose main loop is driven by ebiten.RunGame.
type HAL struct {
	scale  int
	audio  vm.Audio
	keys   hal.KeyState
	pixels []byte
	image  *ebiten.Image

	// control request raised by the last Update, returned by PollEvents
	pending error
	frame   func() error
}

var (
	_ hal.Host   = (*HAL)(nil)
	_ hal.Looper = (*HAL)(nil)
)

func New(opts Options) *HAL {
	scale := opts.Scale
	if scale <= 0 {
		scale = DefaultScale
	}

	audio := opts.Audio
	if audio == nil {
		audio = silence{}
	}

	h := &HAL{
		scale:  scale,
		audio:  audio,
		pixels: make([]byte, vm.ScreenWidth*vm.ScreenHeight*4),
	}
	h.fill(bgColor)
	return h
}

func (h *HAL) Loop(frame func() error) error {
	h.frame = frame

	ebiten.SetWindowSize(vm.ScreenWidth*h.scale, vm.ScreenHeight*h.scale)
	ebiten.SetWindowTitle("CHIP-8")
	ebiten.SetWindowClosingHandled(true)
	ebiten.SetTPS(60)

	slog.Debug("hal: run ebiten game")
	return ebiten.RunGame(&game{h: h})
}

// game adapts HAL to ebiten.Game.
type game struct {
	h *HAL
}

func (g *game) Update() error {
	h := g.h

	if ebiten.IsWindowBeingClosed() {
		slog.Debug("hal: exit requested")
		return ebiten.Termination
	}

	h.readInput()

	if err := h.frame(); err != nil {
		if errors.Is(err, hal.ErrQuit) {
			return ebiten.Termination
		}
		return err
	}

	return nil
}

func (h *HAL) readInput() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyEscape):
		h.pending = hal.ErrQuit
	case inpututil.IsKeyJustPressed(ebiten.KeyBackspace):
		h.pending = hal.ErrReboot
	case inpututil.IsKeyJustPressed(ebiten.KeyF12):
		h.pending = hal.ErrScreenshot
	}

	if !ebiten.IsFocused() {
		h.keys.Clear()
		return
	}

	for physical, key := range keyMap {
		if ebiten.IsKeyPressed(physical) {
			h.keys.Press(key)
		} else {
			h.keys.Release(key)
		}
	}
}

func (h *HAL) PollEvents() error {
	err := h.pending
	h.pending = nil
	return err
}

func (h *HAL) Keys() [vm.KeyCount]bool {
	return h.keys.Keys()
}

func (h *HAL) Beep() error {
	return h.audio.Beep()
}

func (h *HAL) Draw(frame *vm.Frame) error {
	for i, cell := range frame {
		color := bgColor
		if cell != 0 {
			color = fgColor
		}
		copy(h.pixels[i*4:], color[:])
	}

	return nil
}

func (h *HAL) fill(color [4]byte) {
	for i := 0; i < len(h.pixels); i += 4 {
		copy(h.pixels[i:], color[:])
	}
}

func (g *game) Layout(_, _ int) (int, int) {
	return vm.ScreenWidth * g.h.scale, vm.ScreenHeight * g.h.scale
}

func (g *game) Draw(screen *ebiten.Image) {
	h := g.h
	if h.image == nil {
		h.image = ebiten.NewImage(vm.ScreenWidth, vm.ScreenHeight)
	}
	h.image.WritePixels(h.pixels)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(h.scale), float64(h.scale))
	screen.DrawImage(h.image, op)
}

func (h *HAL) Shutdown() {}

type silence struct{}

func (silence) Beep() error { return nil }
