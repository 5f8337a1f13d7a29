package content

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3 keeps artifacts in an S3-compatible bucket.
type S3 struct {
	client *minio.Client
	bucket string
}

func NewS3(cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) CopyContent(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: to},
		minio.CopySrcOptions{Bucket: s.bucket, Object: from},
	)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}
	return nil
}

func (s *S3) GeneratePreview(ctx context.Context, src string, dsts []Target) error {
	obj, err := s.client.GetObject(ctx, s.bucket, src, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get %s: %w", src, err)
	}
	defer obj.Close()
	rendered, err := Scale(obj, dsts)
	if err != nil {
		return fmt.Errorf("preview %s: %w", src, err)
	}
	for _, t := range dsts {
		data := rendered[t.Key]
		_, err := s.client.PutObject(ctx, s.bucket, t.Key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "image/png"})
		if err != nil {
			return fmt.Errorf("put %s: %w", t.Key, err)
		}
	}
	return nil
}
