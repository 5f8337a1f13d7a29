package content

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"path"

	"golang.org/x/image/draw"
)

// Target is one scaled rendition of a source image.
type Target struct {
	Key    string
	Width  int
	Height int
}

// Store moves item artifacts between slots and derives previews.
type Store interface {
	CopyContent(ctx context.Context, from, to string) error
	GeneratePreview(ctx context.Context, src string, dsts []Target) error
}

// Preview sizes for a header image.
const (
	PreviewWidth  = 680
	PreviewHeight = 100
	IconWidth     = 42
	IconHeight    = 42
)

// PreviewTargets derives the preview and icon keys next to a header key.
func PreviewTargets(header string) []Target {
	dir := path.Dir(header)
	return []Target{
		{Key: path.Join(dir, "preview.png"), Width: PreviewWidth, Height: PreviewHeight},
		{Key: path.Join(dir, "icon.png"), Width: IconWidth, Height: IconHeight},
	}
}

// Scale decodes src and encodes one PNG per target.
func Scale(src io.Reader, dsts []Target) (map[string][]byte, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	out := make(map[string][]byte, len(dsts))
	for _, t := range dsts {
		if t.Width <= 0 || t.Height <= 0 {
			return nil, fmt.Errorf("preview %s: invalid size %dx%d", t.Key, t.Width, t.Height)
		}
		dst := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
		var buf bytes.Buffer
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("encode %s: %w", t.Key, err)
		}
		out[t.Key] = buf.Bytes()
	}
	return out, nil
}

// Nop accepts every call and stores nothing.
type Nop struct{}

func (Nop) CopyContent(context.Context, string, string) error       { return nil }
func (Nop) GeneratePreview(context.Context, string, []Target) error { return nil }
