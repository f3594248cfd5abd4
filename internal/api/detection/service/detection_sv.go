package detectionService

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"DetectionWeb/internal/api/detection"
	contextPkg "DetectionWeb/pkg/context"
	"DetectionWeb/internal/entity"
	"DetectionWeb/pkg/annotate"
	"DetectionWeb/pkg/redis"
	"DetectionWeb/pkg/utils"
)

func (s *detectionService) RunDetection(ctx context.Context, stored *detection.StoredImage) (*detection.DetectionResult, error) {
	raw, err := os.ReadFile(stored.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", stored.Path, err)
	}

	img, err := annotate.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(raw)
	inference, err := s.infer(ctx, digest[:], img)
	if err != nil {
		return nil, err
	}

	detections := make([]detection.Detection, 0, len(inference.Boxes))
	labels := make([]annotate.Label, 0, len(inference.Boxes))
	for _, box := range inference.Boxes {
		det, ok := s.toDetection(box, inference.Names)
		if !ok {
			continue
		}
		detections = append(detections, det)
		labels = append(labels, annotate.Label{
			Box:  box,
			Text: annotate.LabelText(det.ClassName, det.Confidence),
		})
	}

	annotatedPath := utils.AnnotatedPath(stored.Path)
	if err := annotate.Save(annotate.Render(img, labels), annotatedPath); err != nil {
		return nil, err
	}

	imageURL, err := s.publicURL(annotatedPath)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id": contextPkg.RequestID(ctx),
		"path":       stored.Path,
		"source":     stored.Source,
		"detections": len(detections),
		"annotated":  annotatedPath,
	}).Info("Detection completed")

	return &detection.DetectionResult{
		Detections:    detections,
		AnnotatedPath: annotatedPath,
		ImageURL:      imageURL,
	}, nil
}

// infer runs the detector once per distinct image and threshold pair.
// Concurrent identical requests share one call and results are cached
// when a cache is configured. The shared call is detached from the
// caller's cancellation; each caller stops waiting on its own context.
func (s *detectionService) infer(ctx context.Context, digest []byte, img image.Image) (*entity.InferenceResult, error) {
	opts := s.cfg.Thresholds
	key := redis.CacheKey(digest, opts)
	shared := context.WithoutCancel(ctx)

	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		if s.cache != nil {
			cached, ok, err := s.cache.GetDetection(shared, key)
			if err != nil {
				s.log.WithField("error", err.Error()).Warn("Detection cache lookup failed")
			} else if ok {
				return cached, nil
			}
		}

		result, err := s.detector.Predict(shared, img, opts)
		if err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}

		if s.cache != nil {
			if err := s.cache.SetDetection(shared, key, result); err != nil {
				s.log.WithField("error", err.Error()).Warn("Detection cache store failed")
			}
		}

		return result, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.log.WithField("key", key).Debug("Shared in-flight inference")
		}
		return res.Val.(*entity.InferenceResult), nil
	}
}

// toDetection resolves the class name and applies presentation rounding.
// Boxes that collapse to zero width or height are dropped.
func (s *detectionService) toDetection(box entity.BoundingBox, engineNames []string) (detection.Detection, bool) {
	coords := lo.Map([]float64{box.X1, box.Y1, box.X2, box.Y2}, func(v float64, _ int) float64 {
		return roundTo(v, 1)
	})
	if coords[0] >= coords[2] || coords[1] >= coords[3] {
		return detection.Detection{}, false
	}

	return detection.Detection{
		ClassID:     box.ClassID,
		ClassName:   s.className(box.ClassID, engineNames),
		Confidence:  roundTo(math.Min(math.Max(box.Confidence, 0), 1), 4),
		BoundingBox: [4]float64{coords[0], coords[1], coords[2], coords[3]},
	}, true
}

func (s *detectionService) className(classID int, engineNames []string) string {
	if name, ok := lookupName(s.cfg.ClassNames, classID); ok {
		return name
	}
	if name, ok := lookupName(engineNames, classID); ok {
		return name
	}
	return strconv.Itoa(classID)
}

func lookupName(names []string, classID int) (string, bool) {
	if classID < 0 || classID >= len(names) || names[classID] == "" {
		return "", false
	}
	return names[classID], true
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// publicURL maps a file under the static directory to the URL it is served at.
func (s *detectionService) publicURL(file string) (string, error) {
	rel, err := filepath.Rel(s.cfg.StaticDir, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the static directory %s", file, s.cfg.StaticDir)
	}
	return path.Join(s.cfg.StaticPrefix, filepath.ToSlash(rel)), nil
}
