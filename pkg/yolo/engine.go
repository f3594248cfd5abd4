package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"DetectionWeb/internal/entity"
)

const DefaultInputSize = 640

var (
	ErrModelNotFound = errors.New("model file not found")
	errEmptyImage    = errors.New("image has no pixels")
)

// IDetector runs object detection on a decoded image.
type IDetector interface {
	Predict(ctx context.Context, img image.Image, opts entity.InferenceOptions) (*entity.InferenceResult, error)
	Close() error
}

type Config struct {
	ModelPath         string
	SharedLibraryPath string
	MaxDetections     int
	IntraOpThreads    int
}

// Engine is an in-process YOLOv8 detector backed by onnxruntime. The session
// owns a single pair of input and output tensors so calls are serialized.
type Engine struct {
	cfg Config
	log *logrus.Logger

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	inputSize  int
	numClasses int
	numAnchors int
	names      []string

	gate *semaphore.Weighted
}

// CheckModel verifies that the weights file at path exists and is a
// regular file. The server refuses to start without it.
func CheckModel(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return fmt.Errorf("failed to stat model file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelNotFound, path)
	}
	return nil
}

func New(cfg Config, logger *logrus.Logger) (*Engine, error) {
	if err := CheckModel(cfg.ModelPath); err != nil {
		return nil, err
	}
	if cfg.MaxDetections <= 0 {
		cfg.MaxDetections = DefaultMaxDetections
	}

	if !ort.IsInitialized() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("unexpected model signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}

	e := &Engine{
		cfg:       cfg,
		log:       logger,
		inputSize: DefaultInputSize,
		gate:      semaphore.NewWeighted(1),
	}

	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[2] > 0 {
		e.inputSize = int(dims[2])
	}

	e.names = readMetadataNames(cfg.ModelPath, logger)

	e.numAnchors = anchorsFor(e.inputSize)
	e.numClasses = len(e.names)
	if dims := outputs[0].Dimensions; len(dims) == 3 {
		if dims[1] > 4 {
			e.numClasses = int(dims[1]) - 4
		}
		if dims[2] > 0 {
			e.numAnchors = int(dims[2])
		}
	}
	if e.numClasses <= 0 {
		return nil, fmt.Errorf("unable to determine class count for %s", cfg.ModelPath)
	}

	if err := e.createSession(inputs[0].Name, outputs[0].Name); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"model":      cfg.ModelPath,
		"input_size": e.inputSize,
		"classes":    e.numClasses,
		"anchors":    e.numAnchors,
	}).Info("Detection model loaded")

	return e, nil
}

func (e *Engine) createSession(inputName, outputName string) error {
	size := int64(e.inputSize)

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return fmt.Errorf("failed to allocate input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+e.numClasses), int64(e.numAnchors)))
	if err != nil {
		return multierr.Append(fmt.Errorf("failed to allocate output tensor: %w", err), input.Destroy())
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return multierr.Combine(fmt.Errorf("failed to create session options: %w", err), input.Destroy(), output.Destroy())
	}
	defer options.Destroy()

	if e.cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(e.cfg.IntraOpThreads); err != nil {
			e.log.WithField("error", err.Error()).Warn("Failed to set intra-op threads")
		}
	}

	session, err := ort.NewAdvancedSession(
		e.cfg.ModelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		return multierr.Combine(fmt.Errorf("failed to create session: %w", err), input.Destroy(), output.Destroy())
	}

	e.session = session
	e.input = input
	e.output = output
	return nil
}

// Names returns the labels embedded in the model, if any.
func (e *Engine) Names() []string {
	return e.names
}

func (e *Engine) Predict(ctx context.Context, img image.Image, opts entity.InferenceOptions) (*entity.InferenceResult, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errEmptyImage
	}

	if err := e.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.gate.Release(1)

	lb := newLetterbox(w, h, e.inputSize)
	lb.fill(lb.apply(img), e.input.GetData())

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	candidates := decode(e.output.GetData(), e.numClasses, e.numAnchors, opts.Conf)
	kept := nonMaxSuppression(candidates, opts.IoU, e.cfg.MaxDetections)

	boxes := make([]entity.BoundingBox, 0, len(kept))
	for _, b := range kept {
		boxes = append(boxes, lb.restore(b, w, h))
	}

	return &entity.InferenceResult{
		Boxes: boxes,
		Names: e.names,
	}, nil
}

func (e *Engine) Close() error {
	var err error
	if e.session != nil {
		err = multierr.Append(err, e.session.Destroy())
	}
	if e.input != nil {
		err = multierr.Append(err, e.input.Destroy())
	}
	if e.output != nil {
		err = multierr.Append(err, e.output.Destroy())
	}
	return multierr.Append(err, ort.DestroyEnvironment())
}

func readMetadataNames(path string, logger *logrus.Logger) []string {
	meta, err := ort.GetModelMetadata(path)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("Failed to read model metadata")
		return nil
	}
	defer meta.Destroy()

	raw, ok, err := meta.LookupCustomMetadataMap("names")
	if err != nil || !ok {
		return nil
	}

	return parseNames(raw)
}

// anchorsFor returns the anchor count of a three-stride (8, 16, 32) head.
func anchorsFor(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := size / stride
		n += side * side
	}
	return n
}
