// Package sdlhal draws the CHIP-8 display in an SDL window and reads the keypad from it.
package sdlhal

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/vm"
	"github.com/veandco/go-sdl2/sdl"
)

const DefaultScale = 16

type Options struct {
	Scale int
	Audio vm.Audio
}

type HAL struct {
	window          *sdl.Window
	renderer        *sdl.Renderer
	texture         *sdl.Texture
	backBuffer      []uint32
	backBufferPitch int

	keys  hal.KeyState
	audio vm.Audio
}

var _ hal.Host = (*HAL)(nil)

func New(opts Options) (*HAL, error) {
	scale := opts.Scale
	if scale <= 0 {
		scale = DefaultScale
	}
	windowWidth, windowHeight := int32(vm.ScreenWidth*scale), int32(vm.ScreenHeight*scale)

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("failed to init sdl: %w", err)
	}

	window, err := sdl.CreateWindow("CHIP-8", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, windowWidth, windowHeight, sdl.WINDOW_SHOWN)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("failed to create sdl window: %w", err)
	}
	slog.Debug("hal: create window", "width", windowWidth, "height", windowHeight)
	window.Show()

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		_ = window.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("failed to create sdl renderer: %w", err)
	}
	err = renderer.SetLogicalSize(windowWidth, windowHeight)
	if err != nil {
		destroy(renderer, window)
		return nil, fmt.Errorf("failed to resize sdl renderer: %w", err)
	}
	slog.Debug("hal: create renderer")

	texture, err := renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888, sdl.TEXTUREACCESS_STREAMING, vm.ScreenWidth, vm.ScreenHeight)
	if err != nil {
		destroy(renderer, window)
		return nil, fmt.Errorf("failed to create sdl texture: %w", err)
	}
	slog.Debug("hal: create texture")

	audio := opts.Audio
	if audio == nil {
		audio = silence{}
	}

	return &HAL{
		window:          window,
		renderer:        renderer,
		texture:         texture,
		backBuffer:      make([]uint32, vm.ScreenWidth*vm.ScreenHeight),
		backBufferPitch: int(vm.ScreenWidth) * int(unsafe.Sizeof(uint32(0))),
		audio:           audio,
	}, nil
}

// destroy releases a half-built window when New fails.
func destroy(renderer *sdl.Renderer, window *sdl.Window) {
	_ = renderer.Destroy()
	_ = window.Destroy()
	sdl.Quit()
}

func (h *HAL) Shutdown() {
	if err := h.texture.Destroy(); err != nil {
		slog.Error("failed to destroy sdl texture", "err", err)
	}

	if err := h.renderer.Destroy(); err != nil {
		slog.Error("failed to destroy sdl renderer", "err", err)
	}

	if err := h.window.Destroy(); err != nil {
		slog.Error("failed to destroy sdl window", "err", err)
	}

	sdl.Quit()
}

func (h *HAL) PollEvents() error {
	for e := sdl.PollEvent(); e != nil; e = sdl.PollEvent() {
		switch e := e.(type) {
		case *sdl.QuitEvent:
			slog.Debug("hal: exit requested")
			return hal.ErrQuit

		case *sdl.WindowEvent:
			if e.Event == sdl.WINDOWEVENT_FOCUS_LOST {
				slog.Debug("hal: focus lost")
				h.keys.Clear()
			}

		case *sdl.KeyboardEvent:
			if e.Type == sdl.KEYDOWN {
				if err := h.processKeyDown(e); err != nil {
					return err
				}
			} else {
				h.processKeyUp(e)
			}
		}
	}

	return nil
}

func (h *HAL) processKeyDown(e *sdl.KeyboardEvent) error {
	switch e.Keysym.Scancode {
	case sdl.SCANCODE_BACKSPACE:
		return hal.ErrReboot
	case sdl.SCANCODE_ESCAPE:
		return hal.ErrQuit
	case sdl.SCANCODE_F12:
		if e.Repeat == 0 {
			return hal.ErrScreenshot
		}
		return nil
	}

	key, ok := keyMap(e)
	if ok {
		h.keys.Press(key)
	}

	return nil
}

func (h *HAL) processKeyUp(e *sdl.KeyboardEvent) {
	key, ok := keyMap(e)
	if ok {
		h.keys.Release(key)
	}
}

func keyMap(e *sdl.KeyboardEvent) (vm.Key, bool) {
	switch e.Keysym.Scancode {
	case sdl.SCANCODE_X:
		return vm.Key0, true
	case sdl.SCANCODE_1:
		return vm.Key1, true
	case sdl.SCANCODE_2:
		return vm.Key2, true
	case sdl.SCANCODE_3:
		return vm.Key3, true
	case sdl.SCANCODE_Q:
		return vm.Key4, true
	case sdl.SCANCODE_W:
		return vm.Key5, true
	case sdl.SCANCODE_E:
		return vm.Key6, true
	case sdl.SCANCODE_A:
		return vm.Key7, true
	case sdl.SCANCODE_S:
		return vm.Key8, true
	case sdl.SCANCODE_D:
		return vm.Key9, true
	case sdl.SCANCODE_Z:
		return vm.KeyA, true
	case sdl.SCANCODE_C:
		return vm.KeyB, true
	case sdl.SCANCODE_4:
		return vm.KeyC, true
	case sdl.SCANCODE_R:
		return vm.KeyD, true
	case sdl.SCANCODE_F:
		return vm.KeyE, true
	case sdl.SCANCODE_V:
		return vm.KeyF, true
	default:
		return 0, false
	}
}

func (h *HAL) Keys() [vm.KeyCount]bool {
	return h.keys.Keys()
}

func (h *HAL) Beep() error {
	return h.audio.Beep()
}

func (h *HAL) Draw(frame *vm.Frame) error {
	const (
		bgColor = uint32(0x000000)
		fgColor = uint32(0xbea700)
	)

	for i, cell := range frame {
		color := bgColor
		if cell != 0 {
			color = fgColor
		}

		h.backBuffer[i] = color
	}

	backBufferPtr := unsafe.Pointer(&h.backBuffer[0])
	if err := h.texture.Update(nil, backBufferPtr, h.backBufferPitch); err != nil {
		return fmt.Errorf("failed to update sdl texture: %w", err)
	}

	if err := h.renderer.Clear(); err != nil {
		return fmt.Errorf("failed to clear sdl renderer: %w", err)
	}

	if err := h.renderer.Copy(h.texture, nil, nil); err != nil {
		return fmt.Errorf("failed to copy sdl texture to renderer: %w", err)
	}

	h.renderer.Present()
	return nil
}

type silence struct{}

func (silence) Beep() error { return nil }
