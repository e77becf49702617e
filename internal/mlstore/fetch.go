package mlstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mohammed-shakir/geo-udf/internal/core/config"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Fetcher opens the bytes behind a source string. The caller closes the reader.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (io.ReadCloser, error)
}

// Sources dispatches on the source scheme: http(s) URLs go through HTTP,
// s3://bucket/key through S3, anything else is a local path. A nil client
// disables its scheme.
type Sources struct {
	HTTP *http.Client
	S3   *minio.Client
}

// NewS3 builds a minio client from cfg. An empty endpoint yields nil.
func NewS3(cfg config.S3Cfg) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return c, nil
}

func (s Sources) Fetch(ctx context.Context, source string) (io.ReadCloser, error) {
	if source == "" {
		return nil, udferr.Missing("store", "source")
	}
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain paths, including windows drive letters
		return s.local(source)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return s.http(ctx, source)
	case "s3":
		return s.s3(ctx, u)
	case "file":
		return s.local(u.Path)
	default:
		return nil, udferr.Invalid("source %q: unsupported scheme %q", source, u.Scheme)
	}
}

func (s Sources) local(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("source %s: %w", path, udferr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", path, err)
	}
	st, err := f.Stat()
	if err == nil && st.IsDir() {
		_ = f.Close()
		return nil, udferr.Invalid("source %s is a directory", path)
	}
	return f, nil
}

func (s Sources) http(ctx context.Context, source string) (io.ReadCloser, error) {
	if s.HTTP == nil {
		return nil, fmt.Errorf("source %s: no http client: %w", source, udferr.ErrUnreachable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, udferr.Invalid("source %q: %v", source, err)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %v: %w", source, err, udferr.ErrUnreachable)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %w", source, udferr.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d: %w", source, resp.StatusCode, udferr.ErrUnreachable)
	}
	return resp.Body, nil
}

func (s Sources) s3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, udferr.Invalid("source %q: want s3://bucket/key", u.String())
	}
	if s.S3 == nil {
		return nil, fmt.Errorf("source %s: no s3 client: %w", u, udferr.ErrUnreachable)
	}
	obj, err := s.S3.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err == nil {
		// GetObject is lazy; Stat surfaces missing keys before the copy starts
		_, err = obj.Stat()
	}
	if err != nil {
		if obj != nil {
			_ = obj.Close()
		}
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NoSuchBucket":
			return nil, fmt.Errorf("fetch %s: %w", u, udferr.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch %s: %v: %w", u, err, udferr.ErrUnreachable)
	}
	return obj, nil
}
