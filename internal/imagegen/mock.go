package imagegen

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
)

// MockGenerator paints a square PNG whose colour is derived from the prompt.
type MockGenerator struct {
	size int
}

func NewMockGenerator(size int) *MockGenerator {
	if size <= 0 {
		size = 64
	}
	return &MockGenerator{size: size}
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New32a()
	h.Write([]byte(prompt))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, m.size, m.size))
	for y := 0; y < m.size; y++ {
		for x := 0; x < m.size; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
