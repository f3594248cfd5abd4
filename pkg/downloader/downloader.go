package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout   = 6 * time.Second
	DefaultMaxBytes  = 5 * 1024 * 1024
	DefaultChunkSize = 8 * 1024
)

var ErrTooLarge = errors.New("download exceeds size limit")

// NotImageError is returned when the remote Content-Type is not accepted.
type NotImageError struct {
	ContentType string
}

func (e *NotImageError) Error() string {
	return fmt.Sprintf("unsupported content type %q", e.ContentType)
}

// FetchError wraps any network-level failure: DNS, connect, HTTP error
// status, timeouts and broken streams.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Config struct {
	Timeout      time.Duration
	MaxBytes     int64
	ChunkSize    int
	AllowedTypes map[string]string
}

type Result struct {
	Path        string
	ContentType string
	Size        int64
}

// NameFunc returns the file name to store a download under, given the
// extension derived from its Content-Type.
type NameFunc func(ext string) (string, error)

type IDownloader interface {
	Download(ctx context.Context, rawURL string, dir string, name NameFunc) (*Result, error)
}

type downloader struct {
	client *resty.Client
	cfg    Config
	log    *logrus.Logger
}

func New(cfg Config, logger *logrus.Logger) IDownloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	client := resty.New().
		SetTransport(transport).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("User-Agent", "DetectionWeb/1.0").
		SetLogger(logger)

	return &downloader{
		client: client,
		cfg:    cfg,
		log:    logger,
	}
}

// Download streams rawURL into dir. Connect, response headers and every
// body read are bounded by the configured timeout. A download larger than
// MaxBytes is aborted and its partial file removed.
func (d *downloader) Download(ctx context.Context, rawURL string, dir string, name NameFunc) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	body := resp.RawBody()
	defer body.Close()

	if code := resp.StatusCode(); code >= http.StatusBadRequest {
		kind := "Client Error"
		if code >= http.StatusInternalServerError {
			kind = "Server Error"
		}
		return nil, &FetchError{Err: fmt.Errorf("%d %s: %s for url: %s", code, kind, http.StatusText(code), rawURL)}
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(resp.Header().Get("Content-Type"), ";")[0]))
	ext, ok := d.cfg.AllowedTypes[contentType]
	if !ok {
		return nil, &NotImageError{ContentType: contentType}
	}

	fileName, err := name(ext)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	size, err := d.stream(ctx, cancel, body, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close %s: %w", path, closeErr)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			d.log.WithFields(logrus.Fields{
				"path":  path,
				"error": rmErr.Error(),
			}).Warn("Failed to remove partial download")
		}
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"url":          rawURL,
		"path":         path,
		"size":         size,
		"content_type": contentType,
	}).Debug("Download completed")

	return &Result{
		Path:        path,
		ContentType: contentType,
		Size:        size,
	}, nil
}

func (d *downloader) stream(ctx context.Context, cancel context.CancelFunc, body io.Reader, w io.Writer) (int64, error) {
	var stalled atomic.Bool
	watchdog := time.AfterFunc(d.cfg.Timeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	buf := make([]byte, d.cfg.ChunkSize)
	var total int64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			watchdog.Reset(d.cfg.Timeout)

			total += int64(n)
			if total > d.cfg.MaxBytes {
				return total, ErrTooLarge
			}

			if _, err := w.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("failed to write download: %w", err)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if readErr != nil {
			if stalled.Load() {
				return total, &FetchError{Err: fmt.Errorf("read timed out after %s", d.cfg.Timeout)}
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, &FetchError{Err: ctxErr}
			}
			return total, &FetchError{Err: readErr}
		}
	}
}
