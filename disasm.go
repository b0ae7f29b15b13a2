package main

import (
	"fmt"
	"os"

	"github.com/kapitanov/chip8/internal/vm"
	"github.com/spf13/cobra"
)

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm PATH_TO_ROM_FILE",
		Short: "Print the instructions of a ROM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			bs, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("unable to load file %q: %w", path, err)
			}

			return vm.Disassemble(cmd.OutOrStdout(), bs)
		},
	}
}
