package content

import (
	"fmt"
	"path/filepath"

	"reviewline/internal/config"
)

// New builds the store named by cfg.Driver. Relative fs dirs resolve against
// the workspace.
func New(cfg config.ContentConfig, workspace string) (Store, error) {
	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "fs":
		dir := cfg.Dir
		if dir == "" {
			dir = ".reviewline/content"
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(workspace, dir)
		}
		return FS{Root: dir}, nil
	case "s3":
		return NewS3(S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		})
	}
	return nil, fmt.Errorf("unknown content driver %q", cfg.Driver)
}
