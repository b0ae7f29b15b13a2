// Package beep plays the CHIP-8 buzzer tone through oto.
package beep

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const (
	SampleRate    = 44100
	DefaultPitch  = 440.0
	DefaultLength = 120 * time.Millisecond
	amplitude     = 0.25
)

// Player renders a fixed square-wave tone and replays it on every Beep.
type Player struct {
	ctx  *oto.Context
	tone []byte

	mu     sync.Mutex
	player *oto.Player
}

// New opens the audio device. Only one oto context may exist per process.
func New(pitch float64, length time.Duration) (*Player, error) {
	op := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("unable to open audio device: %w", err)
	}
	<-ready

	return &Player{
		ctx:  ctx,
		tone: SquareWave(pitch, length),
	}, nil
}

// Beep starts the tone, cutting off a tone that is still playing.
func (p *Player) Beep() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player != nil {
		if err := p.player.Close(); err != nil {
			return fmt.Errorf("unable to stop previous tone: %w", err)
		}
	}

	p.player = p.ctx.NewPlayer(bytes.NewReader(p.tone))
	p.player.Play()
	return nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player == nil {
		return nil
	}

	err := p.player.Close()
	p.player = nil
	return err
}

// SquareWave encodes a mono float32 little-endian square wave.
func SquareWave(pitch float64, length time.Duration) []byte {
	n := int(math.Round(length.Seconds() * SampleRate))
	buf := make([]byte, n*4)
	period := SampleRate / pitch

	for i := 0; i < n; i++ {
		sample := float32(amplitude)
		if math.Mod(float64(i), period) >= period/2 {
			sample = -amplitude
		}
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(sample))
	}

	return buf
}
