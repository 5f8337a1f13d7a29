package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FS keeps artifacts as files under Root.
type FS struct {
	Root string
}

func (s FS) path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("empty content key")
	}
	p := filepath.Join(s.Root, clean)
	if !strings.HasPrefix(p, filepath.Clean(s.Root)+string(filepath.Separator)) {
		return "", fmt.Errorf("content key %q escapes root", key)
	}
	return p, nil
}

func (s FS) CopyContent(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.path(from)
	if err != nil {
		return err
	}
	dst, err := s.path(to)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", from, err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}
	return out.Close()
}

func (s FS) GeneratePreview(ctx context.Context, src string, dsts []Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(src)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("preview %s: %w", src, err)
	}
	defer f.Close()
	rendered, err := Scale(f, dsts)
	if err != nil {
		return err
	}
	for _, t := range dsts {
		dst, err := s.path(t.Key)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, rendered[t.Key], 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Put writes raw bytes under key. Used by the submit path to stage uploads.
func (s FS) Put(key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
