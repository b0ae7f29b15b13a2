package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16
	ScreenWidth   = 64
	ScreenHeight  = 32
	KeyCount      = 16

	ProgramStart    = uint16(0x200)
	InstructionSize = 2
	AddressMask     = uint16(0x0FFF)
	FlagRegister    = 0x0F

	MaxROMSize = MemorySize - int(ProgramStart)
)

// Frame is a snapshot of the display, one byte (0 or 1) per cell, row-major.
type Frame [ScreenWidth * ScreenHeight]uint8

// At reports whether the cell at (x, y) is lit. Coordinates wrap.
func (f *Frame) At(x, y int) bool {
	return f[screenAddr(uint16(x), uint16(y))] != 0
}

// Display receives the frame after every draw or clear.
type Display interface {
	Draw(frame *Frame) error
}

// Audio plays the tone when the sound timer expires.
type Audio interface {
	Beep() error
}

// Keypad supplies the state of the 16 keys, indexed 0x0-0xF.
type Keypad interface {
	Keys() [KeyCount]bool
}

type Key uint8

const (
	Key0 = Key(iota)
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
)

// Status describes the outcome of a successful Step.
type Status uint8

const (
	// StatusExecuted means one instruction ran and the machine advanced.
	StatusExecuted = Status(iota)
	// StatusAwaitingKey means FX0A is pending and no key is down yet.
	StatusAwaitingKey
	// StatusIdle means the instruction just executed was a jump to itself.
	StatusIdle
)

func (s Status) String() string {
	switch s {
	case StatusExecuted:
		return "executed"
	case StatusAwaitingKey:
		return "awaiting key"
	case StatusIdle:
		return "idle"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Quirks toggles the ambiguous behaviours of the original COSMAC VIP interpreter.
type Quirks struct {
	// LoadStoreIncrementsIndex makes FX55/FX65 leave I = I + X + 1.
	LoadStoreIncrementsIndex bool
	// ShiftUsesVY makes 8XY6/8XYE shift VY and store the result in VX.
	ShiftUsesVY bool
}

type Options struct {
	Display Display
	Audio   Audio
	Keypad  Keypad

	// Seed initializes the random source used by CXNN.
	Seed uint64

	// RealtimeTimers stops Step from decrementing the timers;
	// the caller must call TickTimers at 60 Hz instead.
	RealtimeTimers bool

	Quirks Quirks
}

type VM struct {
	memory    [MemorySize]uint8    // Memory (4k)
	registers [RegisterCount]uint8 // V registers (V0-VF)

	stack [StackSize]uint16 // Stack
	sp    uint16            // Stack pointer

	pc    uint16 // Program counter
	index uint16 // Index register

	delayTimer uint8 // Delay timer
	soundTimer uint8 // Sound timer

	gfx      Frame          // Graphics buffer
	keypad   [KeyCount]bool // Keypad
	drawFlag bool           // Indicates a draw has occurred
	status   Status         // Outcome of the last instruction

	rng *rand.Rand

	display Display
	audio   Audio
	input   Keypad

	realtimeTimers bool
	quirks         Quirks

	program []byte
}

func New(opts Options) *VM {
	vm := &VM{
		rng:            rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		display:        opts.Display,
		audio:          opts.Audio,
		input:          opts.Keypad,
		realtimeTimers: opts.RealtimeTimers,
		quirks:         opts.Quirks,
	}
	if vm.display == nil {
		vm.display = nopDisplay{}
	}
	if vm.audio == nil {
		vm.audio = nopAudio{}
	}
	if vm.input == nil {
		vm.input = nopKeypad{}
	}

	vm.initialize()
	return vm
}

// Load resets the machine and copies program to ProgramStart.
// The machine is left untouched when program does not fit.
func (vm *VM) Load(program []byte) error {
	if len(program) > MaxROMSize {
		return fmt.Errorf("%w: %d bytes, at most %d fit", ErrROMTooLarge, len(program), MaxROMSize)
	}

	vm.program = append([]byte(nil), program...)
	vm.initialize()
	return nil
}

// Reset restarts the last loaded program from a clean machine.
func (vm *VM) Reset() {
	vm.initialize()
}

func (vm *VM) initialize() {
	vm.pc = ProgramStart
	vm.index = 0
	vm.sp = 0
	vm.status = StatusExecuted

	// Clear the display
	vm.gfx = Frame{}
	vm.drawFlag = true

	// Clear the stack, keypad, and V registers
	slog.Debug("clear stack", "n", len(vm.stack))
	vm.stack = [StackSize]uint16{}

	slog.Debug("clear keypad", "n", len(vm.keypad))
	vm.keypad = [KeyCount]bool{}

	slog.Debug("clear registers", "n", len(vm.registers))
	vm.registers = [RegisterCount]uint8{}

	// Clear memory
	slog.Debug("clear memory", "n", len(vm.memory))
	vm.memory = [MemorySize]uint8{}

	// Load font set into memory
	slog.Debug("load font", "at", fmt.Sprintf("0x%04x", FontStart), "n", len(chip8Font))
	copy(vm.memory[FontStart:], chip8Font)

	// Load program into memory
	if len(vm.program) > 0 {
		slog.Info("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(vm.program))
		copy(vm.memory[ProgramStart:], vm.program)
	}

	// Reset timers
	vm.delayTimer = 0
	vm.soundTimer = 0
}

// Step executes exactly one instruction.
//
// While FX0A waits for input, Step returns StatusAwaitingKey without
// advancing the program counter or the timers. Decode and stack errors
// leave the machine as it was before the call. Host errors from the
// display or the audio device are returned after the instruction has
// executed and the timers have ticked; a frame that failed to draw is
// pushed again on the next step.
func (vm *VM) Step() (Status, error) {
	vm.keypad = vm.input.Keys()

	prev := vm.status
	if err := vm.executeOpcode(vm.fetchOpcode()); err != nil {
		vm.status = prev
		return prev, err
	}
	status := vm.status

	var drawErr error
	if vm.drawFlag {
		if err := vm.display.Draw(vm.Frame()); err != nil {
			drawErr = fmt.Errorf("unable to draw frame: %w", err)
		} else {
			vm.drawFlag = false
		}
	}

	if status == StatusAwaitingKey || vm.realtimeTimers {
		return status, drawErr
	}

	return status, errors.Join(drawErr, vm.TickTimers())
}

// TickTimers decrements both timers once and beeps when the sound timer
// runs out. Step calls it after every instruction unless the machine was
// built with RealtimeTimers.
func (vm *VM) TickTimers() error {
	if vm.delayTimer > 0 {
		vm.delayTimer--
	}

	if vm.soundTimer > 0 {
		vm.soundTimer--
		if vm.soundTimer == 0 {
			if err := vm.audio.Beep(); err != nil {
				return fmt.Errorf("unable to beep: %w", err)
			}
		}
	}

	return nil
}

func (vm *VM) fetchOpcode() uint16 {
	hi := vm.readByte(vm.pc)
	lo := vm.readByte(vm.pc + 1)

	opcode := uint16(hi)<<8 | uint16(lo) // Op code is two bytes
	return opcode
}

func (vm *VM) readByte(addr uint16) uint8 {
	return vm.memory[addr&AddressMask]
}

func (vm *VM) writeByte(addr uint16, value uint8) {
	vm.memory[addr&AddressMask] = value
}

func (vm *VM) push(addr uint16) error {
	if int(vm.sp) >= StackSize {
		return ErrStackOverflow
	}
	vm.stack[vm.sp] = addr
	vm.sp++
	return nil
}

func (vm *VM) pop() (uint16, error) {
	if vm.sp == 0 {
		return 0, ErrStackUnderflow
	}
	vm.sp--
	return vm.stack[vm.sp], nil
}

func (vm *VM) debugEnabled() bool {
	return slog.Default().Enabled(context.Background(), slog.LevelDebug)
}

// Frame returns a copy of the display buffer.
func (vm *VM) Frame() *Frame {
	frame := vm.gfx
	return &frame
}

// Status reports the outcome of the last successful Step.
func (vm *VM) Status() Status { return vm.status }

func (vm *VM) PC() uint16 { return vm.pc }

func (vm *VM) Index() uint16 { return vm.index }

func (vm *VM) SP() uint16 { return vm.sp }

func (vm *VM) DelayTimer() uint8 { return vm.delayTimer }

func (vm *VM) SoundTimer() uint8 { return vm.soundTimer }

func (vm *VM) Register(r int) uint8 { return vm.registers[r&0x0F] }

func (vm *VM) Memory(addr uint16) uint8 { return vm.readByte(addr) }

type nopDisplay struct{}

func (nopDisplay) Draw(*Frame) error { return nil }

type nopAudio struct{}

func (nopAudio) Beep() error { return nil }

type nopKeypad struct{}

func (nopKeypad) Keys() [KeyCount]bool { return [KeyCount]bool{} }
