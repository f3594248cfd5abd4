package detectionService

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DetectionWeb/internal/api/detection"
	"DetectionWeb/internal/entity"
	"DetectionWeb/pkg/downloader"
	"DetectionWeb/pkg/utils"
)

type fakeDetector struct {
	result *entity.InferenceResult
	err    error
	calls  atomic.Int32
	opts   entity.InferenceOptions
}

func (f *fakeDetector) Predict(_ context.Context, _ image.Image, opts entity.InferenceOptions) (*entity.InferenceResult, error) {
	f.calls.Add(1)
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeDetector) Close() error { return nil }

// slowDetector blocks until release is closed or its context ends.
type slowDetector struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (d *slowDetector) Predict(ctx context.Context, _ image.Image, _ entity.InferenceOptions) (*entity.InferenceResult, error) {
	d.calls.Add(1)
	d.started <- struct{}{}
	select {
	case <-d.release:
		return &entity.InferenceResult{
			Boxes: []entity.BoundingBox{{ClassID: 0, Confidence: 0.8, X1: 1, Y1: 1, X2: 6, Y2: 6}},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *slowDetector) Close() error { return nil }

type fakeDownloader struct {
	err   error
	calls atomic.Int32
}

func (f *fakeDownloader) Download(_ context.Context, _ string, dir string, name downloader.NameFunc) (*downloader.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	fileName, err := name("png")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fileName)
	return &downloader.Result{Path: path, ContentType: "image/png"}, os.WriteFile(path, pngBytes(4, 4), 0o644)
}

type fakeCache struct {
	stored map[string]*entity.InferenceResult
}

func (f *fakeCache) GetDetection(_ context.Context, key string) (*entity.InferenceResult, bool, error) {
	r, ok := f.stored[key]
	return r, ok, nil
}

func (f *fakeCache) SetDetection(_ context.Context, key string, result *entity.InferenceResult) error {
	f.stored[key] = result
	return nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }
func (f *fakeCache) Close() error               { return nil }

type fixture struct {
	svc        *detectionService
	detector   *fakeDetector
	downloader *fakeDownloader
	staticDir  string
	uploadDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	staticDir := t.TempDir()
	uploadDir := filepath.Join(staticDir, "uploads")
	require.NoError(t, os.MkdirAll(uploadDir, 0o755))

	det := &fakeDetector{result: &entity.InferenceResult{Boxes: []entity.BoundingBox{}}}
	dl := &fakeDownloader{}

	svc := NewDetectionService(logger, Config{
		UploadDir:  uploadDir,
		StaticDir:  staticDir,
		Thresholds: entity.InferenceOptions{Conf: 0.25, IoU: 0.45},
	}, det, nil, dl, utils.New()).(*detectionService)

	return &fixture{
		svc:        svc,
		detector:   det,
		downloader: dl,
		staticDir:  staticDir,
		uploadDir:  uploadDir,
	}
}

func pngBytes(w, h int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 40, G: 80, B: 120, A: 255}))
	return buf.Bytes()
}

func fileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(detection.ImageField, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	form, err := multipart.NewReader(&body, mw.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	return form.File[detection.ImageField][0]
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAcquireUploadRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AcquireUpload(context.Background(), fileHeader(t, "doc.pdf", []byte("%PDF")))
	require.ErrorIs(t, err, detection.ErrUnsupportedFileType)
	assert.Equal(t, "Unsupported file type", err.Error())
	assert.Empty(t, listDir(t, f.uploadDir))
}

func TestAcquireUploadRejectsMissingExtension(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AcquireUpload(context.Background(), fileHeader(t, "jpg", []byte("x")))
	require.ErrorIs(t, err, detection.ErrUnsupportedFileType)
}

func TestAcquireUploadStoresSanitizedUniqueName(t *testing.T) {
	f := newFixture(t)
	content := pngBytes(3, 3)

	stored, err := f.svc.AcquireUpload(context.Background(), fileHeader(t, "../my photo.PNG", content))
	require.NoError(t, err)

	assert.Equal(t, SourceUpload, stored.Source)
	assert.Equal(t, f.uploadDir, filepath.Dir(stored.Path))
	assert.True(t, strings.HasPrefix(stored.Name, "my_photo_"), stored.Name)
	assert.Equal(t, ".png", stored.Ext())

	onDisk, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)
}

func TestAcquireUploadDistinctNames(t *testing.T) {
	f := newFixture(t)

	a, err := f.svc.AcquireUpload(context.Background(), fileHeader(t, "same.jpg", []byte("a")))
	require.NoError(t, err)
	b, err := f.svc.AcquireUpload(context.Background(), fileHeader(t, "same.jpg", []byte("b")))
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
}

func TestAcquireUploadNonASCIIName(t *testing.T) {
	f := newFixture(t)

	stored, err := f.svc.AcquireUpload(context.Background(), fileHeader(t, "写真.jpg", []byte("x")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.Name, "upload_"), stored.Name)
	assert.Equal(t, ".jpg", stored.Ext())
}

func TestAcquireURLRejectsScheme(t *testing.T) {
	f := newFixture(t)

	for _, raw := range []string{"ftp://example.com/a.jpg", "example.com/a.jpg", "HTTP://example.com/a.jpg"} {
		_, err := f.svc.AcquireURL(context.Background(), raw)
		require.ErrorIs(t, err, detection.ErrInvalidURLScheme, raw)
	}

	assert.Zero(t, f.downloader.calls.Load())
}

func TestAcquireURLStoresDownload(t *testing.T) {
	f := newFixture(t)

	stored, err := f.svc.AcquireURL(context.Background(), "https://example.com/cat")
	require.NoError(t, err)

	assert.Equal(t, SourceURL, stored.Source)
	assert.True(t, strings.HasPrefix(stored.Name, "url_"), stored.Name)
	assert.Equal(t, ".png", stored.Ext())
	assert.FileExists(t, stored.Path)
}

func TestAcquireURLErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "too large", err: downloader.ErrTooLarge, want: "Image too large (>5MB)"},
		{name: "not image", err: &downloader.NotImageError{ContentType: "text/html"}, want: "URL is not an image (got text/html)"},
		{name: "fetch", err: &downloader.FetchError{Err: errors.New("404 Client Error: Not Found for url: http://x")}, want: "Failed to fetch URL: 404 Client Error: Not Found for url: http://x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.downloader.err = tt.err

			_, err := f.svc.AcquireURL(context.Background(), "http://example.com/a.jpg")
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func storeImage(t *testing.T, f *fixture, name string, w, h int) *detection.StoredImage {
	t.Helper()
	path := filepath.Join(f.uploadDir, name)
	require.NoError(t, os.WriteFile(path, pngBytes(w, h), 0o644))
	return &detection.StoredImage{Path: path, Name: name, Source: SourceUpload}
}

func TestRunDetection(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.ClassNames = []string{"helmet"}
	f.detector.result = &entity.InferenceResult{
		Names: []string{"h", "vest", "", "", "", "car"},
		Boxes: []entity.BoundingBox{
			{ClassID: 0, Confidence: 0.876543, X1: 10.04, Y1: 10.06, X2: 50.56, Y2: 60},
			{ClassID: 5, Confidence: 0.5, X1: 1, Y1: 1, X2: 20, Y2: 20},
			{ClassID: 7, Confidence: 0.3, X1: 2, Y1: 2, X2: 30, Y2: 30},
			{ClassID: 1, Confidence: 0.9, X1: 5, Y1: 5, X2: 5.01, Y2: 40},
		},
	}

	stored := storeImage(t, f, "scene_01.png", 100, 80)
	result, err := f.svc.RunDetection(context.Background(), stored)
	require.NoError(t, err)

	require.Len(t, result.Detections, 3)

	assert.Equal(t, detection.Detection{
		ClassID:     0,
		ClassName:   "helmet",
		Confidence:  0.8765,
		BoundingBox: [4]float64{10, 10.1, 50.6, 60},
	}, result.Detections[0])
	assert.Equal(t, "car", result.Detections[1].ClassName)
	assert.Equal(t, "7", result.Detections[2].ClassName)

	for _, d := range result.Detections {
		assert.GreaterOrEqual(t, d.Confidence, 0.0)
		assert.LessOrEqual(t, d.Confidence, 1.0)
		assert.Less(t, d.BoundingBox[0], d.BoundingBox[2])
		assert.Less(t, d.BoundingBox[1], d.BoundingBox[3])
	}

	assert.Equal(t, filepath.Join(f.uploadDir, "scene_01_annotated.png"), result.AnnotatedPath)
	assert.Equal(t, "/static/uploads/scene_01_annotated.png", result.ImageURL)
	assert.FileExists(t, result.AnnotatedPath)

	assert.Equal(t, entity.InferenceOptions{Conf: 0.25, IoU: 0.45}, f.detector.opts)
}

func TestRunDetectionNoBoxes(t *testing.T) {
	f := newFixture(t)

	stored := storeImage(t, f, "empty.png", 32, 24)
	result, err := f.svc.RunDetection(context.Background(), stored)
	require.NoError(t, err)

	assert.NotNil(t, result.Detections)
	assert.Empty(t, result.Detections)

	annotated, err := imaging.Open(result.AnnotatedPath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), annotated.Bounds())
}

func TestRunDetectionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.detector.result = &entity.InferenceResult{
		Boxes: []entity.BoundingBox{{ClassID: 0, Confidence: 0.61234, X1: 1.26, Y1: 2.24, X2: 9.95, Y2: 7.5}},
	}

	stored := storeImage(t, f, "same.png", 16, 16)

	first, err := f.svc.RunDetection(context.Background(), stored)
	require.NoError(t, err)
	second, err := f.svc.RunDetection(context.Background(), stored)
	require.NoError(t, err)

	assert.Equal(t, first.Detections, second.Detections)
}

func TestRunDetectionUsesCache(t *testing.T) {
	f := newFixture(t)
	f.svc.cache = &fakeCache{stored: map[string]*entity.InferenceResult{}}
	f.detector.result = &entity.InferenceResult{
		Boxes: []entity.BoundingBox{{ClassID: 0, Confidence: 0.7, X1: 1, Y1: 1, X2: 5, Y2: 5}},
	}

	stored := storeImage(t, f, "cached.png", 8, 8)

	_, err := f.svc.RunDetection(context.Background(), stored)
	require.NoError(t, err)
	result, err := f.svc.RunDetection(context.Background(), stored)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.detector.calls.Load())
	require.Len(t, result.Detections, 1)
	assert.Equal(t, "0", result.Detections[0].ClassName)
}

func TestRunDetectionCancelledCallerDoesNotFailJoinedRequest(t *testing.T) {
	f := newFixture(t)
	det := &slowDetector{started: make(chan struct{}, 2), release: make(chan struct{})}
	f.svc.detector = det

	stored := storeImage(t, f, "shared.png", 8, 8)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.svc.RunDetection(ctxA, stored)
		errA <- err
	}()
	<-det.started

	type outcome struct {
		result *detection.DetectionResult
		err    error
	}
	doneB := make(chan outcome, 1)
	go func() {
		result, err := f.svc.RunDetection(context.Background(), stored)
		doneB <- outcome{result: result, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(det.release)
	b := <-doneB
	require.NoError(t, b.err)
	require.Len(t, b.result.Detections, 1)
	assert.Equal(t, int32(1), det.calls.Load())
}

func TestRunDetectionEngineFailure(t *testing.T) {
	f := newFixture(t)
	f.detector.err = errors.New("onnx exploded")

	stored := storeImage(t, f, "boom.png", 8, 8)
	_, err := f.svc.RunDetection(context.Background(), stored)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "onnx exploded")

	_, statErr := os.Stat(filepath.Join(f.uploadDir, "boom_annotated.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunDetectionCorruptImage(t *testing.T) {
	f := newFixture(t)

	path := filepath.Join(f.uploadDir, "broken.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not a jpeg"), 0o644))

	_, err := f.svc.RunDetection(context.Background(), &detection.StoredImage{Path: path, Name: "broken.jpg"})
	require.Error(t, err)
	assert.Zero(t, f.detector.calls.Load())
}

func TestPublicURLOutsideStatic(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.publicURL(filepath.Join(t.TempDir(), "x.png"))
	require.Error(t, err)
}
