package detectionService

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"DetectionWeb/internal/api/detection"
	contextPkg "DetectionWeb/pkg/context"
	"DetectionWeb/pkg/downloader"
)

const (
	SourceUpload = "upload"
	SourceURL    = "url"

	fallbackUploadBase = "upload"
	urlBase            = "url"
)

func (s *detectionService) AcquireUpload(ctx context.Context, file *multipart.FileHeader) (*detection.StoredImage, error) {
	if file == nil || file.Filename == "" {
		return nil, detection.ErrMissingInput
	}

	ext, ok := s.utils.AllowedImageExtension(file.Filename)
	if !ok {
		return nil, detection.ErrUnsupportedFileType
	}

	name, err := s.utils.UniqueFileName(s.uploadBase(file.Filename), ext)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.cfg.UploadDir, name)

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	if err := writeExclusive(path, src); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id": contextPkg.RequestID(ctx),
		"file_name":  file.Filename,
		"file_size":  file.Size,
		"path":       path,
	}).Debug("Upload stored")

	return &detection.StoredImage{
		Path:   path,
		Name:   name,
		Source: SourceUpload,
	}, nil
}

// uploadBase sanitizes the client file name and returns it without its
// extension. Names that lose their stem or extension while sanitizing fall
// back to a fixed base.
func (s *detectionService) uploadBase(filename string) string {
	safe := s.utils.SecureFilename(filename)
	ext := filepath.Ext(safe)
	base := strings.TrimSuffix(safe, ext)
	if ext == "" || base == "" {
		return fallbackUploadBase
	}
	return base
}

func writeExclusive(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func (s *detectionService) AcquireURL(ctx context.Context, rawURL string) (*detection.StoredImage, error) {
	if rawURL == "" {
		return nil, detection.ErrMissingInput
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, detection.ErrInvalidURLScheme
	}

	res, err := s.downloader.Download(ctx, rawURL, s.cfg.UploadDir, func(ext string) (string, error) {
		return s.utils.UniqueFileName(urlBase, ext)
	})
	if err != nil {
		return nil, mapDownloadError(err)
	}

	s.log.WithFields(logrus.Fields{
		"request_id":   contextPkg.RequestID(ctx),
		"url":          rawURL,
		"path":         res.Path,
		"size":         res.Size,
		"content_type": res.ContentType,
	}).Debug("Remote image stored")

	return &detection.StoredImage{
		Path:   res.Path,
		Name:   filepath.Base(res.Path),
		Source: SourceURL,
	}, nil
}

func mapDownloadError(err error) error {
	var notImage *downloader.NotImageError
	var fetchErr *downloader.FetchError

	switch {
	case errors.Is(err, downloader.ErrTooLarge):
		return detection.ErrImageTooLarge
	case errors.As(err, &notImage):
		return detection.NewNotImageError(notImage.ContentType)
	case errors.As(err, &fetchErr):
		return detection.NewFetchError(fetchErr)
	default:
		return err
	}
}
