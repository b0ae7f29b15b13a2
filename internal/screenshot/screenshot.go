// Package screenshot writes the CHIP-8 display out as a PNG image.
package screenshot

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"

	"github.com/kapitanov/chip8/internal/vm"
	"golang.org/x/image/draw"
)

const DefaultScale = 8

var palette = color.Palette{
	color.RGBA{0x00, 0x00, 0x00, 0xff},
	color.RGBA{0xbe, 0xa7, 0x00, 0xff},
}

// Image converts a frame to a paletted image, one pixel per cell.
func Image(frame *vm.Frame) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, vm.ScreenWidth, vm.ScreenHeight), palette)
	for i, cell := range frame {
		if cell != 0 {
			img.Pix[i] = 1
		}
	}
	return img
}

// Encode writes frame as a PNG, each cell scaled to a scale x scale square.
func Encode(w io.Writer, frame *vm.Frame, scale int) error {
	if scale <= 0 {
		scale = DefaultScale
	}

	src := Image(frame)
	dst := image.NewPaletted(image.Rect(0, 0, vm.ScreenWidth*scale, vm.ScreenHeight*scale), palette)
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	if err := png.Encode(w, dst); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

func Save(path string, frame *vm.Frame, scale int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create screenshot file: %w", err)
	}

	if err := Encode(f, frame, scale); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write screenshot file: %w", err)
	}

	slog.Info("screenshot saved", "path", path)
	return nil
}
