package vm

import (
	"fmt"
	"log/slog"
)

func (vm *VM) executeOpcode(opcode uint16) error {
	instr := decode(opcode)

	if vm.debugEnabled() {
		slog.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", vm.pc),
			"opcode", fmt.Sprintf("0x%04x", opcode),
			"instr", instr.Name(opcode),
		)
	}

	if instr.Execute == nil {
		return &DecodeError{Opcode: opcode, PC: vm.pc}
	}

	vm.status = StatusExecuted
	return instr.Execute(vm, opcode)
}

type instruction struct {
	Name    func(opcode uint16) string
	Execute func(vm *VM, opcode uint16) error
}

// Operand fields of an instruction word.
func regX(opcode uint16) uint16 { return (opcode & 0x0F00) >> 8 }

func regY(opcode uint16) uint16 { return (opcode & 0x00F0) >> 4 }

func imm4(opcode uint16) uint16 { return opcode & 0x000F }

func imm8(opcode uint16) uint8 { return uint8(opcode & 0x00FF) }

func addr(opcode uint16) uint16 { return opcode & AddressMask }

func decode(opcode uint16) instruction {
	switch opcode & 0xF000 {
	case 0x0000:
		switch opcode {
		case 0x00E0:
			// 00E0 - Clear screen
			return clsInstruction

		case 0x00EE:
			// 00EE - Return from subroutine
			return rtsInstruction
		}

	case 0x1000:
		// 1NNN - Jumps to address NNN
		return jmpInstruction

	case 0x2000:
		// 2NNN - Calls subroutine at NNN
		return jsrInstruction

	case 0x3000:
		// 3XNN - Skips the next instruction if VX equals NN
		return skeq1Instruction

	case 0x4000:
		// 4XNN - Skips the next instruction if VX does not equal NN
		return skne1Instruction

	case 0x5000:
		// 5XY0 - Skips the next instruction if VX equals VY
		if imm4(opcode) == 0 {
			return skeq2Instruction
		}

	case 0x6000:
		// 6XNN - Sets VX to NN
		return mov1Instruction

	case 0x7000:
		// 7XNN - Adds NN to VX
		return add1Instruction

	case 0x8000:
		// 8XY_
		switch opcode & 0x000F {
		case 0x0000:
			// 8XY0 - Sets VX to the value of VY
			return mov2Instruction

		case 0x0001:
			// 8XY1 - Sets VX to (VX OR VY)
			return orInstruction

		case 0x0002:
			// 8XY2 - Sets VX to (VX AND VY)
			return andInstruction

		case 0x0003:
			// 8XY3 - Sets VX to (VX XOR VY)
			return xorInstruction

		case 0x0004:
			// 8XY4 - Adds VY to VX. VF is set to 1 when there's a carry, and to 0 when there isn't.
			return add2Instruction

		case 0x0005:
			// 8XY5 - VY is subtracted from VX. VF is set to 0 when there's a borrow, and 1 when there isn't.
			return subInstruction

		case 0x0006:
			// 8XY6 - Shifts VX right by one. VF is set to the value of the least significant bit of VX before the shift.
			return shrInstruction

		case 0x0007:
			// 8XY7 - Sets VX to VY minus VX. VF is set to 0 when there's a borrow, and 1 when there isn't.
			return rsbInstruction

		case 0x000E:
			// 8XYE - Shifts VX left by one. VF is set to the value of the most significant bit of VX before the shift.
			return shlInstruction
		}

	case 0x9000:
		// 9XY0 - Skips the next instruction if VX doesn't equal VY
		if imm4(opcode) == 0 {
			return skne2Instruction
		}

	case 0xA000:
		// ANNN - Sets I to the address NNN
		return mviInstruction

	case 0xB000:
		// BNNN - Jumps to the address NNN plus V0
		return jmiInstruction

	case 0xC000:
		// CXNN - Sets VX to a random number, masked by NN
		return randInstruction

	case 0xD000:
		// DXYN - Draws a sprite at coordinate (VX, VY) that has a width of 8
		// pixels and a height of N pixels.
		// Each row of 8 pixels is read as bit-coded starting from memory
		// location I; I value doesn't change after the execution of this instruction.
		// VF is set to 1 if any screen pixels are flipped from set to unset
		// when the sprite is drawn, and to 0 if that doesn't happen.
		return spriteInstruction

	case 0xE000:
		switch opcode & 0x00FF {
		case 0x009E:
			// EX9E - Skips the next instruction if the key stored in VX is pressed
			return skprInstruction

		case 0x00A1:
			// EXA1 - Skips the next instruction if the key stored in VX isn't pressed
			return skupInstruction
		}

	case 0xF000:
		switch opcode & 0x00FF {
		case 0x0007:
			// FX07 - Sets VX to the value of the delay timer
			return gdelayInstruction

		case 0x000A:
			// FX0A - A key press is awaited, and then stored in VX
			return keyInstruction

		case 0x0015:
			// FX15 - Sets the delay timer to VX
			return sdelayInstruction

		case 0x0018:
			// FX18 - Sets the sound timer to VX
			return ssoundInstruction

		case 0x001E:
			// FX1E - Adds VX to I
			return adiInstruction

		case 0x0029:
			// FX29 - Sets I to the location of the sprite for the
			// character in VX. Characters 0-F (in hexadecimal) are
			// represented by a 4x5 font
			return fontInstruction

		case 0x0033:
			// FX33 - Stores the Binary-coded decimal representation of VX
			// at the addresses I, I plus 1, and I plus 2
			return bcdInstruction

		case 0x0055:
			// FX55 - Stores V0 to VX in memory starting at address I
			return strInstruction

		case 0x0065:
			// FX65 - Reads memory starting at address I into V0...VX
			return ldrInstruction
		}
	}

	return unknownInstruction
}

func nameX(mnemonic string) func(opcode uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x", mnemonic, regX(opcode))
	}
}

func nameXY(mnemonic string) func(opcode uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x, v%x", mnemonic, regX(opcode), regY(opcode))
	}
}

func nameXNN(mnemonic string) func(opcode uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x, %d", mnemonic, regX(opcode), imm8(opcode))
	}
}

func nameNNN(mnemonic string) func(opcode uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s 0x%04x", mnemonic, addr(opcode))
	}
}

// skipIf advances past the next instruction when cond holds.
func (vm *VM) skipIf(cond bool) {
	if cond {
		vm.pc += 2 * InstructionSize
	} else {
		vm.pc += InstructionSize
	}
}

// setWithFlag stores result in VX and then flag in VF, so VF wins when X is F.
func (vm *VM) setWithFlag(vX uint16, result uint8, flag bool) {
	vm.registers[vX] = result
	if flag {
		vm.registers[FlagRegister] = 1
	} else {
		vm.registers[FlagRegister] = 0
	}
}

var (
	// 00E0	cls	Clear the screen
	clsInstruction = instruction{
		Name: func(opcode uint16) string {
			return "cls"
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.gfx = Frame{}
			vm.drawFlag = true
			vm.pc += InstructionSize
			return nil
		},
	}

	// 00EE	rts	return from subroutine call
	rtsInstruction = instruction{
		Name: func(opcode uint16) string {
			return "rts"
		},
		Execute: func(vm *VM, opcode uint16) error {
			pc, err := vm.pop()
			if err != nil {
				return fmt.Errorf("rts at 0x%04x: %w", vm.pc, err)
			}
			vm.pc = pc
			return nil
		},
	}

	// 1xxx	jmp xxx	jump to address xxx
	jmpInstruction = instruction{
		Name: nameNNN("jmp"),
		Execute: func(vm *VM, opcode uint16) error {
			pc := addr(opcode)
			if pc == vm.pc {
				vm.status = StatusIdle
			}
			vm.pc = pc
			return nil
		},
	}

	// 2xxx	jsr xxx	jump to subroutine at address xxx
	jsrInstruction = instruction{
		Name: nameNNN("jsr"),
		Execute: func(vm *VM, opcode uint16) error {
			if err := vm.push(vm.pc + InstructionSize); err != nil {
				return fmt.Errorf("jsr at 0x%04x: %w", vm.pc, err)
			}
			vm.pc = addr(opcode)
			return nil
		},
	}

	// 3rxx	skeq vr,xx	skip if register r = constant
	skeq1Instruction = instruction{
		Name: nameXNN("skeq"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] == imm8(opcode))
			return nil
		},
	}

	// 4rxx	skne vr,xx	skip if register r <> constant
	skne1Instruction = instruction{
		Name: nameXNN("skne"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] != imm8(opcode))
			return nil
		},
	}

	// 5ry0	skeq vr,vy	skip if register r = register y
	skeq2Instruction = instruction{
		Name: nameXY("skeq"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] == vm.registers[regY(opcode)])
			return nil
		},
	}

	// 6rxx	mov vr,xx	move constant to register r
	mov1Instruction = instruction{
		Name: nameXNN("mov"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = imm8(opcode)
			vm.pc += InstructionSize
			return nil
		},
	}

	// 7rxx	add vr,xx	add constant to register r	No carry generated
	add1Instruction = instruction{
		Name: nameXNN("add"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] += imm8(opcode)
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8ry0	mov vr,vy	move register vy into vr
	mov2Instruction = instruction{
		Name: nameXY("mov"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = vm.registers[regY(opcode)]
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8ry1	or rx,ry	or register vy into register vx
	orInstruction = instruction{
		Name: nameXY("or"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] |= vm.registers[regY(opcode)]
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8ry2	and rx,ry	and register vy into register vx
	andInstruction = instruction{
		Name: nameXY("and"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] &= vm.registers[regY(opcode)]
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8ry3	xor rx,ry	exclusive or register ry into register rx
	xorInstruction = instruction{
		Name: nameXY("xor"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] ^= vm.registers[regY(opcode)]
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8ry4	add vr,vy	add register vy to vr,carry in vf
	add2Instruction = instruction{
		Name: nameXY("add"),
		Execute: func(vm *VM, opcode uint16) error {
			vX, vY := regX(opcode), regY(opcode)
			sum := uint16(vm.registers[vX]) + uint16(vm.registers[vY])

			vm.setWithFlag(vX, uint8(sum), sum > 0xFF)
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8ry5	sub vr,vy	subtract register vy from vr,borrow in vf	vf set to 0 if borrows
	subInstruction = instruction{
		Name: nameXY("sub"),
		Execute: func(vm *VM, opcode uint16) error {
			vX, vY := regX(opcode), regY(opcode)
			x, y := vm.registers[vX], vm.registers[vY]

			vm.setWithFlag(vX, x-y, x >= y)
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8r06	shr vr	shift register vr right, bit 0 goes into register vf
	shrInstruction = instruction{
		Name: nameXY("shr"),
		Execute: func(vm *VM, opcode uint16) error {
			src := regX(opcode)
			if vm.quirks.ShiftUsesVY {
				src = regY(opcode)
			}
			x := vm.registers[src]

			vm.setWithFlag(regX(opcode), x>>1, x&0x01 != 0)
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8ry7	rsb vr,vy	subtract register vr from register vy, result in vr	vf set to 0 if borrows
	rsbInstruction = instruction{
		Name: nameXY("rsb"),
		Execute: func(vm *VM, opcode uint16) error {
			vX, vY := regX(opcode), regY(opcode)
			x, y := vm.registers[vX], vm.registers[vY]

			vm.setWithFlag(vX, y-x, y >= x)
			vm.pc += InstructionSize
			return nil
		},
	}

	// 8r0e	shl vr	shift register vr left,bit 7 goes into register vf
	shlInstruction = instruction{
		Name: nameXY("shl"),
		Execute: func(vm *VM, opcode uint16) error {
			src := regX(opcode)
			if vm.quirks.ShiftUsesVY {
				src = regY(opcode)
			}
			x := vm.registers[src]

			vm.setWithFlag(regX(opcode), x<<1, x&0x80 != 0)
			vm.pc += InstructionSize
			return nil
		},
	}

	// 9ry0	skne rx,ry	skip if register rx <> register ry
	skne2Instruction = instruction{
		Name: nameXY("skne"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] != vm.registers[regY(opcode)])
			return nil
		},
	}

	// axxx	mvi xxx	Load index register with constant xxx
	mviInstruction = instruction{
		Name: nameNNN("mvi"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.index = addr(opcode)
			vm.pc += InstructionSize
			return nil
		},
	}

	// bxxx	jmi xxx	Jump to address xxx+register v0
	jmiInstruction = instruction{
		Name: nameNNN("jmi"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.pc = (addr(opcode) + uint16(vm.registers[0])) & AddressMask
			return nil
		},
	}

	// crxx	rand vr,xxx	vr = random byte masked by xxx
	randInstruction = instruction{
		Name: nameXNN("rand"),
		Execute: func(vm *VM, opcode uint16) error {
			x := uint8(vm.rng.UintN(256))
			vm.registers[regX(opcode)] = x & imm8(opcode)
			vm.pc += InstructionSize
			return nil
		},
	}

	// sprite rx,ry,s	Draw sprite at screen location rx,ry height s
	// Sprites stored in memory at location in index register, 8 bits wide.
	// Wraps around the screen.
	// If when drawn, clears a pixel, vf is set to 1 otherwise it is zero.
	// All drawing is xor drawing (e.g. it toggles the screen pixels)
	spriteInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("sprite v%x, v%x, %d", regX(opcode), regY(opcode), imm4(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			height := imm4(opcode)
			xLocation, yLocation := uint16(vm.registers[regX(opcode)]), uint16(vm.registers[regY(opcode)])

			hasCollision := false
			for y := uint16(0); y < height; y++ {
				pixel := vm.readByte(vm.index + y)

				const width = uint16(8)
				for x := uint16(0); x < width; x++ {
					mask := uint8(0x80 >> x)
					if (pixel & mask) == 0 {
						continue
					}

					cell := screenAddr(x+xLocation, y+yLocation)
					if vm.gfx[cell] != 0 {
						hasCollision = true
					}
					vm.gfx[cell] ^= 1
				}
			}

			if hasCollision {
				vm.registers[FlagRegister] = 1
			} else {
				vm.registers[FlagRegister] = 0
			}
			vm.drawFlag = true
			vm.pc += InstructionSize
			return nil
		},
	}

	// ek9e	skpr k	skip if key (register rk) pressed
	skprInstruction = instruction{
		Name: nameX("skpr"),
		Execute: func(vm *VM, opcode uint16) error {
			key := vm.registers[regX(opcode)] & 0x0F
			vm.skipIf(vm.keypad[key])
			return nil
		},
	}

	// eka1	skup k	skip if key (register rk) not pressed
	skupInstruction = instruction{
		Name: nameX("skup"),
		Execute: func(vm *VM, opcode uint16) error {
			key := vm.registers[regX(opcode)] & 0x0F
			vm.skipIf(!vm.keypad[key])
			return nil
		},
	}

	// fr07	gdelay vr	get delay timer into vr
	gdelayInstruction = instruction{
		Name: nameX("gdelay"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = vm.delayTimer
			vm.pc += InstructionSize
			return nil
		},
	}

	// fr0a	key vr	wait for for keypress,put key in register vr
	keyInstruction = instruction{
		Name: nameX("key"),
		Execute: func(vm *VM, opcode uint16) error {
			for i, pressed := range vm.keypad {
				if pressed {
					vm.registers[regX(opcode)] = uint8(i)
					vm.pc += InstructionSize
					return nil
				}
			}

			vm.status = StatusAwaitingKey
			return nil
		},
	}

	// fr15	sdelay vr	set the delay timer to vr
	sdelayInstruction = instruction{
		Name: nameX("sdelay"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.delayTimer = vm.registers[regX(opcode)]
			vm.pc += InstructionSize
			return nil
		},
	}

	// fr18	ssound vr	set the sound timer to vr
	ssoundInstruction = instruction{
		Name: nameX("ssound"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.soundTimer = vm.registers[regX(opcode)]
			vm.pc += InstructionSize
			return nil
		},
	}

	// fr1e	adi vr	add register vr to the index register
	adiInstruction = instruction{
		Name: nameX("adi"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.index += uint16(vm.registers[regX(opcode)])
			vm.pc += InstructionSize
			return nil
		},
	}

	// fr29	font vr	point I to the sprite for hexadecimal character in vr	Sprite is 5 bytes high
	fontInstruction = instruction{
		Name: nameX("font"),
		Execute: func(vm *VM, opcode uint16) error {
			digit := uint16(vm.registers[regX(opcode)] & 0x0F)
			vm.index = FontStart + digit*FontGlyphHeight
			vm.pc += InstructionSize
			return nil
		},
	}

	// fr33	bcd vr	store the bcd representation of register vr at location I,I+1,I+2	Doesn't change I
	bcdInstruction = instruction{
		Name: nameX("bcd"),
		Execute: func(vm *VM, opcode uint16) error {
			x := vm.registers[regX(opcode)]

			vm.writeByte(vm.index, x/100)
			vm.writeByte(vm.index+1, (x/10)%10)
			vm.writeByte(vm.index+2, x%10)
			vm.pc += InstructionSize
			return nil
		},
	}

	// fr55	str v0-vr	store registers v0-vr at location I onwards
	strInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("str v0-v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			n := regX(opcode)

			for i := uint16(0); i <= n; i++ {
				vm.writeByte(vm.index+i, vm.registers[i])
			}

			// On the original interpreter, when the operation is done, I = I + X + 1.
			if vm.quirks.LoadStoreIncrementsIndex {
				vm.index += n + 1
			}

			vm.pc += InstructionSize
			return nil
		},
	}

	// fx65	ldr v0-vr	load registers v0-vr from location I onwards.
	ldrInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ldr v0-v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			n := regX(opcode)

			for i := uint16(0); i <= n; i++ {
				vm.registers[i] = vm.readByte(vm.index + i)
			}

			if vm.quirks.LoadStoreIncrementsIndex {
				vm.index += n + 1
			}

			vm.pc += InstructionSize
			return nil
		},
	}

	unknownInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("unknown 0x%04X", opcode)
		},
	}
)

func screenAddr(x, y uint16) uint16 {
	x %= ScreenWidth
	y %= ScreenHeight

	return ScreenWidth*y + x
}
