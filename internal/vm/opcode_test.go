package vm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		x, y     uint8
		opcode   uint16
		wantX    uint8
		wantFlag uint8
	}{
		{name: "add carry", x: 0xFF, y: 0x01, opcode: 0x8124, wantX: 0x00, wantFlag: 1},
		{name: "add no carry", x: 0x01, y: 0x01, opcode: 0x8124, wantX: 0x02, wantFlag: 0},
		{name: "add exactly 255", x: 0xFE, y: 0x01, opcode: 0x8124, wantX: 0xFF, wantFlag: 0},
		{name: "sub no borrow", x: 0x05, y: 0x03, opcode: 0x8125, wantX: 0x02, wantFlag: 1},
		{name: "sub borrow", x: 0x03, y: 0x05, opcode: 0x8125, wantX: 0xFE, wantFlag: 0},
		{name: "sub equal", x: 0x07, y: 0x07, opcode: 0x8125, wantX: 0x00, wantFlag: 1},
		{name: "rsb no borrow", x: 0x03, y: 0x05, opcode: 0x8127, wantX: 0x02, wantFlag: 1},
		{name: "rsb borrow", x: 0x05, y: 0x03, opcode: 0x8127, wantX: 0xFE, wantFlag: 0},
		{name: "rsb equal", x: 0x09, y: 0x09, opcode: 0x8127, wantX: 0x00, wantFlag: 1},
		{name: "shr odd", x: 0x03, opcode: 0x8126, wantX: 0x01, wantFlag: 1},
		{name: "shr even", x: 0x04, opcode: 0x8126, wantX: 0x02, wantFlag: 0},
		{name: "shl msb", x: 0x80, opcode: 0x812E, wantX: 0x00, wantFlag: 1},
		{name: "shl no msb", x: 0x41, opcode: 0x812E, wantX: 0x82, wantFlag: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0x6100|uint16(tt.x), 0x6200|uint16(tt.y), tt.opcode)
			f.steps(t, 3)

			if got := f.vm.Register(1); got != tt.wantX {
				t.Errorf("v1 = 0x%02x, want 0x%02x", got, tt.wantX)
			}
			if got := f.vm.Register(FlagRegister); got != tt.wantFlag {
				t.Errorf("vf = %d, want %d", got, tt.wantFlag)
			}
			if got := f.vm.PC(); got != ProgramStart+6 {
				t.Errorf("pc = 0x%04x, want 0x%04x", got, ProgramStart+6)
			}
		})
	}
}

func TestRegisterOps(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		want   uint8
	}{
		{name: "mov", opcode: 0x8120, want: 0x0F},
		{name: "or", opcode: 0x8121, want: 0x2F},
		{name: "and", opcode: 0x8122, want: 0x0C},
		{name: "xor", opcode: 0x8123, want: 0x23},
		{name: "add immediate wraps", opcode: 0x71F0, want: 0x1C},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t,
				0x612C, // mov v1, 0x2c
				0x620F, // mov v2, 0x0f
				0x6F07, // mov vf, 7
				tt.opcode,
			)
			f.steps(t, 4)

			if got := f.vm.Register(1); got != tt.want {
				t.Errorf("v1 = 0x%02x, want 0x%02x", got, tt.want)
			}
			if got := f.vm.Register(FlagRegister); got != 7 {
				t.Errorf("vf changed to %d by a flagless instruction", got)
			}
		})
	}
}

func TestFlagRegisterAsOperand(t *testing.T) {
	f := newFixture(t,
		0x6FFF, // mov vf, 0xff
		0x6101, // mov v1, 1
		0x8F14, // add vf, v1
	)
	f.steps(t, 3)

	if got := f.vm.Register(FlagRegister); got != 1 {
		t.Errorf("vf = %d, want carry flag 1 to win over the sum", got)
	}
}

func TestShiftQuirk(t *testing.T) {
	machine := New(Options{Quirks: Quirks{ShiftUsesVY: true}})
	if err := machine.Load(program(
		0x6101, // mov v1, 1
		0x6281, // mov v2, 0x81
		0x8126, // shr v1, v2
	)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := machine.Step(); err != nil {
			t.Fatal(err)
		}
	}

	if machine.Register(1) != 0x40 || machine.Register(FlagRegister) != 1 {
		t.Errorf("v1 = 0x%02x vf = %d, want 0x40 and 1", machine.Register(1), machine.Register(FlagRegister))
	}
}

func TestRandomMask(t *testing.T) {
	f := newFixture(t,
		0x61FF, // mov v1, 0xff
		0xC100, // rand v1, 0
		0xC20F, // rand v2, 0x0f
		0x1206, // jmp 0x206
	)
	f.steps(t, 3)

	if got := f.vm.Register(1); got != 0 {
		t.Errorf("rand with mask 0 = 0x%02x", got)
	}
	if got := f.vm.Register(2); got&0xF0 != 0 {
		t.Errorf("rand with mask 0x0f = 0x%02x", got)
	}
}

func TestRandomIsSeeded(t *testing.T) {
	run := func() []uint8 {
		machine := New(Options{Seed: 7})
		words := make([]uint16, 0, 8)
		for i := 0; i < 8; i++ {
			words = append(words, 0xC0FF|uint16(i)<<8)
		}
		if err := machine.Load(program(words...)); err != nil {
			t.Fatal(err)
		}
		for range words {
			if _, err := machine.Step(); err != nil {
				t.Fatal(err)
			}
		}
		out := make([]uint8, 8)
		for i := range out {
			out[i] = machine.Register(i)
		}
		return out
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("same seed produced different values: %s", diff)
	}
}

func TestJumps(t *testing.T) {
	t.Run("jmp", func(t *testing.T) {
		f := newFixture(t, 0x1ABC)
		f.step(t)
		if f.vm.PC() != 0x0ABC {
			t.Errorf("pc = 0x%04x, want 0x0abc", f.vm.PC())
		}
	})

	t.Run("jmi", func(t *testing.T) {
		f := newFixture(t, 0x6010, 0xB300)
		f.steps(t, 2)
		if f.vm.PC() != 0x0310 {
			t.Errorf("pc = 0x%04x, want 0x0310", f.vm.PC())
		}
	})

	t.Run("self jump is idle", func(t *testing.T) {
		f := newFixture(t, 0x6001, 0x1202)
		if status := f.step(t); status != StatusExecuted {
			t.Fatalf("status = %v", status)
		}
		if status := f.step(t); status != StatusIdle {
			t.Errorf("status = %v, want idle", status)
		}
		if f.vm.PC() != 0x0202 {
			t.Errorf("pc = 0x%04x", f.vm.PC())
		}
	})
}

func TestCallReturn(t *testing.T) {
	f := newFixture(t,
		0x2206, // 0x200 jsr 0x206
		0x6107, // 0x202 mov v1, 7
		0x0000, // 0x204
		0x6205, // 0x206 mov v2, 5
		0x00EE, // 0x208 rts
	)

	f.step(t)
	if f.vm.PC() != 0x0206 || f.vm.SP() != 1 {
		t.Fatalf("after call pc = 0x%04x sp = %d", f.vm.PC(), f.vm.SP())
	}
	if f.vm.stack[0] != 0x0202 {
		t.Errorf("return address = 0x%04x, want 0x0202", f.vm.stack[0])
	}

	f.steps(t, 2)
	if f.vm.PC() != 0x0202 || f.vm.SP() != 0 {
		t.Fatalf("after return pc = 0x%04x sp = %d", f.vm.PC(), f.vm.SP())
	}

	f.step(t)
	if f.vm.Register(1) != 7 || f.vm.Register(2) != 5 {
		t.Errorf("v1 = %d v2 = %d", f.vm.Register(1), f.vm.Register(2))
	}
}

func TestStackOverflow(t *testing.T) {
	f := newFixture(t, 0x2200) // jsr 0x200, forever

	for i := 0; i < StackSize; i++ {
		f.step(t)
	}
	if f.vm.SP() != StackSize {
		t.Fatalf("sp = %d, want %d", f.vm.SP(), StackSize)
	}

	_, err := f.vm.Step()
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v, want ErrStackOverflow", err)
	}
	if f.vm.SP() != StackSize || f.vm.PC() != ProgramStart {
		t.Errorf("state changed by failed call: sp = %d pc = 0x%04x", f.vm.SP(), f.vm.PC())
	}
}

func TestStackUnderflow(t *testing.T) {
	f := newFixture(t, 0x00EE)

	if _, err := f.vm.Step(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("err = %v, want ErrStackUnderflow", err)
	}
}

func TestSkips(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		skip   bool
	}{
		{name: "skeq imm taken", opcode: 0x3105, skip: true},
		{name: "skeq imm not taken", opcode: 0x3106},
		{name: "skne imm taken", opcode: 0x4106, skip: true},
		{name: "skne imm not taken", opcode: 0x4105},
		{name: "skeq reg taken", opcode: 0x5120, skip: true},
		{name: "skeq reg not taken", opcode: 0x5130},
		{name: "skne reg taken", opcode: 0x9130, skip: true},
		{name: "skne reg not taken", opcode: 0x9120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t,
				0x6105, // mov v1, 5
				0x6205, // mov v2, 5
				0x6309, // mov v3, 9
				tt.opcode,
			)
			f.steps(t, 4)

			want := ProgramStart + 8
			if tt.skip {
				want += InstructionSize
			}
			if f.vm.PC() != want {
				t.Errorf("pc = 0x%04x, want 0x%04x", f.vm.PC(), want)
			}
		})
	}
}

func TestKeySkips(t *testing.T) {
	tests := []struct {
		name    string
		opcode  uint16
		pressed bool
		skip    bool
	}{
		{name: "skpr pressed", opcode: 0xE19E, pressed: true, skip: true},
		{name: "skpr released", opcode: 0xE19E},
		{name: "skup pressed", opcode: 0xE1A1, pressed: true},
		{name: "skup released", opcode: 0xE1A1, skip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0x610B, tt.opcode)
			f.keypad.keys[0xB] = tt.pressed
			f.steps(t, 2)

			want := ProgramStart + 4
			if tt.skip {
				want += InstructionSize
			}
			if f.vm.PC() != want {
				t.Errorf("pc = 0x%04x, want 0x%04x", f.vm.PC(), want)
			}
		})
	}
}

func TestWaitForKey(t *testing.T) {
	f := newFixture(t,
		0x6003, // mov v0, 3
		0xF015, // sdelay v0
		0xF50A, // key v5
	)
	f.steps(t, 2)
	delay := f.vm.DelayTimer()

	for i := 0; i < 3; i++ {
		if status := f.step(t); status != StatusAwaitingKey {
			t.Fatalf("status = %v, want awaiting key", status)
		}
		if f.vm.PC() != ProgramStart+4 {
			t.Fatalf("pc advanced while waiting: 0x%04x", f.vm.PC())
		}
	}
	if f.vm.DelayTimer() != delay {
		t.Errorf("delay timer moved while waiting: %d -> %d", delay, f.vm.DelayTimer())
	}

	f.keypad.keys[0xC] = true
	f.keypad.keys[0x9] = true
	if status := f.step(t); status != StatusExecuted {
		t.Fatalf("status = %v after key press", status)
	}
	if f.vm.Register(5) != 0x9 {
		t.Errorf("v5 = 0x%x, want lowest pressed key 0x9", f.vm.Register(5))
	}
	if f.vm.PC() != ProgramStart+6 {
		t.Errorf("pc = 0x%04x after key press", f.vm.PC())
	}
}

func TestMemoryOps(t *testing.T) {
	t.Run("bcd", func(t *testing.T) {
		f := newFixture(t, 0x61EA, 0xA300, 0xF133) // v1 = 234
		f.steps(t, 3)

		got := []uint8{f.vm.Memory(0x300), f.vm.Memory(0x301), f.vm.Memory(0x302)}
		if diff := cmp.Diff([]uint8{2, 3, 4}, got); diff != "" {
			t.Errorf("bcd (-want, +got)\n%s", diff)
		}
		if f.vm.Index() != 0x300 {
			t.Errorf("bcd changed i to 0x%04x", f.vm.Index())
		}
	})

	t.Run("store and load", func(t *testing.T) {
		f := newFixture(t,
			0x6011, // mov v0, 0x11
			0x6122, // mov v1, 0x22
			0x6233, // mov v2, 0x33
			0x6344, // mov v3, 0x44
			0xA400, // mvi 0x400
			0xF255, // str v0-v2
			0x6000, // mov v0, 0
			0x6100, // mov v1, 0
			0x6200, // mov v2, 0
			0xF165, // ldr v0-v1
		)
		f.steps(t, 10)

		stored := []uint8{f.vm.Memory(0x400), f.vm.Memory(0x401), f.vm.Memory(0x402), f.vm.Memory(0x403)}
		if diff := cmp.Diff([]uint8{0x11, 0x22, 0x33, 0x00}, stored); diff != "" {
			t.Errorf("stored (-want, +got)\n%s", diff)
		}
		loaded := []uint8{f.vm.Register(0), f.vm.Register(1), f.vm.Register(2)}
		if diff := cmp.Diff([]uint8{0x11, 0x22, 0x00}, loaded); diff != "" {
			t.Errorf("loaded (-want, +got)\n%s", diff)
		}
		if f.vm.Index() != 0x400 {
			t.Errorf("i = 0x%04x, want unchanged 0x400", f.vm.Index())
		}
	})

	t.Run("store increments index with quirk", func(t *testing.T) {
		machine := New(Options{Quirks: Quirks{LoadStoreIncrementsIndex: true}})
		if err := machine.Load(program(0xA400, 0xF255)); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			if _, err := machine.Step(); err != nil {
				t.Fatal(err)
			}
		}
		if machine.Index() != 0x403 {
			t.Errorf("i = 0x%04x, want 0x403", machine.Index())
		}
	})

	t.Run("adi", func(t *testing.T) {
		f := newFixture(t, 0xAFFF, 0x6102, 0x6F09, 0xF11E)
		f.steps(t, 4)
		if f.vm.Index() != 0x1001 {
			t.Errorf("i = 0x%04x, want 0x1001", f.vm.Index())
		}
		if f.vm.Register(FlagRegister) != 9 {
			t.Errorf("adi touched vf")
		}
	})

	t.Run("font", func(t *testing.T) {
		f := newFixture(t, 0x610A, 0xF129)
		f.steps(t, 2)
		if f.vm.Index() != 0x0A*FontGlyphHeight {
			t.Errorf("i = 0x%04x, want 0x%04x", f.vm.Index(), 0x0A*FontGlyphHeight)
		}
	})

	t.Run("mvi", func(t *testing.T) {
		f := newFixture(t, 0xA123)
		f.step(t)
		if f.vm.Index() != 0x0123 {
			t.Errorf("i = 0x%04x", f.vm.Index())
		}
	})

	t.Run("timers", func(t *testing.T) {
		f := newFixture(t, 0x6009, 0xF015, 0xF307)
		f.steps(t, 3)
		// set to 9, ticked once after sdelay, read before the next tick
		if f.vm.Register(3) != 8 {
			t.Errorf("v3 = %d, want 8", f.vm.Register(3))
		}
	})
}

func TestDraw(t *testing.T) {
	f := newFixture(t,
		0x6000, // mov v0, 0
		0xA20C, // mvi 0x20c
		0xD001, // sprite v0, v0, 1
		0xD001, // sprite v0, v0, 1
		0x1208, // jmp 0x208
		0x0000,
		0xFF00, // 0x20c: sprite data
	)
	f.steps(t, 3)

	var want Frame
	for x := 0; x < 8; x++ {
		want[x] = 1
	}
	if diff := cmp.Diff(want, *f.vm.Frame()); diff != "" {
		t.Errorf("first draw (-want, +got)\n%s", diff)
	}
	if f.vm.Register(FlagRegister) != 0 {
		t.Errorf("vf = %d on first draw, want 0", f.vm.Register(FlagRegister))
	}

	f.step(t)
	if diff := cmp.Diff(Frame{}, *f.vm.Frame()); diff != "" {
		t.Errorf("second draw (-want, +got)\n%s", diff)
	}
	if f.vm.Register(FlagRegister) != 1 {
		t.Errorf("vf = %d on collision, want 1", f.vm.Register(FlagRegister))
	}
}

func TestDrawWraps(t *testing.T) {
	f := newFixture(t,
		0x603E, // mov v0, 62
		0x611F, // mov v1, 31
		0xA20A, // mvi 0x20a
		0xD012, // sprite v0, v1, 2
		0x1208,
		0xC0C0, // 0x20a: two rows 11000000
	)
	f.steps(t, 4)

	frame := f.vm.Frame()
	for _, p := range [][2]int{{62, 31}, {63, 31}, {62, 0}, {63, 0}} {
		if !frame.At(p[0], p[1]) {
			t.Errorf("pixel (%d, %d) not set", p[0], p[1])
		}
	}
	if frame.At(0, 31) || frame.At(0, 0) {
		t.Errorf("sprite spilled past its 2 columns")
	}
}

func TestClearScreen(t *testing.T) {
	f := newFixture(t, 0x00E0)
	for i := range f.vm.gfx {
		f.vm.gfx[i] = 1
	}
	f.step(t)

	if diff := cmp.Diff(Frame{}, *f.vm.Frame()); diff != "" {
		t.Errorf("cls (-want, +got)\n%s", diff)
	}
}

func TestUnknownOpcodes(t *testing.T) {
	for _, opcode := range []uint16{0x0000, 0x0123, 0x00E1, 0x5121, 0x8128, 0x812F, 0x9121, 0xE1FF, 0xF1FF, 0xF100} {
		t.Run(Mnemonic(opcode), func(t *testing.T) {
			f := newFixture(t, opcode)

			_, err := f.vm.Step()
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("err = %v, want *DecodeError", err)
			}
			if decodeErr.Opcode != opcode || decodeErr.PC != ProgramStart {
				t.Errorf("decode error = %+v", decodeErr)
			}
			if !errors.Is(err, ErrUnknownOpcode) {
				t.Errorf("errors.Is(err, ErrUnknownOpcode) = false")
			}
			if f.vm.PC() != ProgramStart {
				t.Errorf("pc advanced past unknown opcode")
			}
		})
	}
}

func TestAllCanonicalOpcodesDecode(t *testing.T) {
	opcodes := []uint16{
		0x00E0, 0x00EE, 0x1123, 0x2123, 0x3123, 0x4123, 0x5120, 0x6123, 0x7123,
		0x8120, 0x8121, 0x8122, 0x8123, 0x8124, 0x8125, 0x8126, 0x8127, 0x812E,
		0x9120, 0xA123, 0xB123, 0xC123, 0xD123, 0xE19E, 0xE1A1,
		0xF107, 0xF10A, 0xF115, 0xF118, 0xF11E, 0xF129, 0xF133, 0xF155, 0xF165,
	}
	if len(opcodes) != 34 {
		t.Fatalf("table has %d entries", len(opcodes))
	}

	seen := map[string]bool{}
	for _, opcode := range opcodes {
		instr := decode(opcode)
		if instr.Execute == nil {
			t.Errorf("0x%04x did not decode", opcode)
		}
		seen[instr.Name(opcode)] = true
	}
	if len(seen) != len(opcodes) {
		t.Errorf("names are not distinct: %d of %d", len(seen), len(opcodes))
	}
}
