package camd

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// jpegQuality matches the quality the real device encodes at.
const jpegQuality = 85

// FrameSource synthesizes JPEG frames for the simulated sensor: a flat
// background, a block that moves one step per frame, and a timestamp
// overlay. Enough motion for a watcher to see the feed is alive.
type FrameSource struct {
	mu  sync.Mutex
	seq int
}

// NewFrameSource creates a frame synthesizer.
func NewFrameSource() *FrameSource {
	return &FrameSource{}
}

var (
	frameBackground = color.RGBA{R: 24, G: 26, B: 30, A: 255}
	frameBlock      = color.RGBA{R: 226, G: 61, B: 40, A: 255}
	frameText       = color.White
)

// Frame renders the next frame at the given dimensions.
func (f *FrameSource) Frame(width, height int, at time.Time) ([]byte, error) {
	f.mu.Lock()
	seq := f.seq
	f.seq++
	f.mu.Unlock()

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(frameBackground), image.Point{}, draw.Src)

	// Moving block, wrapping left to right.
	blockSize := height / 8
	if blockSize < 8 {
		blockSize = 8
	}
	span := width - blockSize
	if span < 1 {
		span = 1
	}
	x := (seq * 4) % span
	y := (height - blockSize) / 2
	block := image.Rect(x, y, x+blockSize, y+blockSize)
	draw.Draw(img, block, image.NewUniform(frameBlock), image.Point{}, draw.Src)

	label := fmt.Sprintf("%s  frame %06d", at.Format("2006-01-02 15:04:05.000"), seq)
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(frameText),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, height-8),
	}
	drawer.DrawString(label)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}
