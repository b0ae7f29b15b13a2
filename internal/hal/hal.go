// Package hal defines the contract between the emulator loop and the
// platform adapters that draw frames, play the tone and read the keyboard.
package hal

import (
	"errors"
	"sync"

	"github.com/kapitanov/chip8/internal/vm"
)

var (
	ErrReboot     = errors.New("reboot")
	ErrQuit       = errors.New("quit")
	ErrScreenshot = errors.New("screenshot")
)

// Host is a platform adapter. PollEvents drains pending window events and
// returns ErrQuit, ErrReboot or ErrScreenshot when the user asks for it.
type Host interface {
	vm.Display
	vm.Audio
	vm.Keypad

	PollEvents() error
	Shutdown()
}

// Looper is implemented by hosts that own the main loop. Loop calls frame
// once per display refresh until frame returns an error or the window closes.
type Looper interface {
	Loop(frame func() error) error
}

// KeyState tracks which CHIP-8 keys are held. It is safe for concurrent use.
type KeyState struct {
	mu   sync.Mutex
	keys [vm.KeyCount]bool
}

func (s *KeyState) Press(key vm.Key) {
	s.set(key, true)
}

func (s *KeyState) Release(key vm.Key) {
	s.set(key, false)
}

func (s *KeyState) set(key vm.Key, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[key&0x0F] = down
}

// Clear releases every key, e.g. when the window loses focus.
func (s *KeyState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = [vm.KeyCount]bool{}
}

func (s *KeyState) Keys() [vm.KeyCount]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.keys
}

// Physical                Logical
// ================        =================
// | 1 | 2 | 3 | 4 |       | 1 | 2 | 3 | C |
// | q | w | e | r |       | 4 | 5 | 6 | D |
// | a | s | d | f |  <=>  | 7 | 8 | 9 | E |
// | z | x | c | v |       | A | 0 | B | F |
// ================        =================

// KeyLayout maps the characters of a QWERTY keyboard onto the hex keypad.
var KeyLayout = map[rune]vm.Key{
	'1': vm.Key1, '2': vm.Key2, '3': vm.Key3, '4': vm.KeyC,
	'q': vm.Key4, 'w': vm.Key5, 'e': vm.Key6, 'r': vm.KeyD,
	'a': vm.Key7, 's': vm.Key8, 'd': vm.Key9, 'f': vm.KeyE,
	'z': vm.KeyA, 'x': vm.Key0, 'c': vm.KeyB, 'v': vm.KeyF,
}

// LookupKey maps a character to a keypad key, ignoring case.
func LookupKey(r rune) (vm.Key, bool) {
	if r >= 'A' && r <= 'Z' {
		r += 'a' - 'A'
	}
	key, ok := KeyLayout[r]
	return key, ok
}
