package vm

import (
	"fmt"
	"io"
)

// Disassemble writes one line per instruction word of program, addressed
// as if it were loaded at ProgramStart. A trailing odd byte is printed as data.
func Disassemble(w io.Writer, program []byte) error {
	for i := 0; i < len(program); i += InstructionSize {
		pc := ProgramStart + uint16(i)

		if i+1 >= len(program) {
			if _, err := fmt.Fprintf(w, "0x%04x  %02x    db 0x%02x\n", pc, program[i], program[i]); err != nil {
				return err
			}
			break
		}

		opcode := uint16(program[i])<<8 | uint16(program[i+1])
		if _, err := fmt.Fprintf(w, "0x%04x  %04x  %s\n", pc, opcode, Mnemonic(opcode)); err != nil {
			return err
		}
	}

	return nil
}

// Mnemonic returns the assembly text of a single instruction word.
func Mnemonic(opcode uint16) string {
	return decode(opcode).Name(opcode)
}
