package yolo

import (
	"math"
	"sort"

	"DetectionWeb/internal/entity"
)

const (
	DefaultMaxDetections = 300
	maxCandidates        = 30000
)

// decode reads a YOLOv8 detection head laid out as [4+numClasses][numAnchors]
// (cx, cy, w, h, class scores...) and keeps, per anchor, the best class when
// its score is above conf.
func decode(output []float32, numClasses, numAnchors int, conf float64) []entity.BoundingBox {
	if numClasses <= 0 || numAnchors <= 0 || len(output) < (4+numClasses)*numAnchors {
		return nil
	}

	boxes := make([]entity.BoundingBox, 0, 64)
	for i := 0; i < numAnchors; i++ {
		classID, best := 0, float32(-1)
		for c := 0; c < numClasses; c++ {
			if score := output[(4+c)*numAnchors+i]; score > best {
				best = score
				classID = c
			}
		}

		if float64(best) <= conf {
			continue
		}

		cx := float64(output[i])
		cy := float64(output[numAnchors+i])
		w := float64(output[2*numAnchors+i])
		h := float64(output[3*numAnchors+i])

		boxes = append(boxes, entity.BoundingBox{
			ClassID:    classID,
			Confidence: float64(best),
			X1:         cx - w/2,
			Y1:         cy - h/2,
			X2:         cx + w/2,
			Y2:         cy + h/2,
		})
	}

	return boxes
}

// nonMaxSuppression keeps the highest scoring boxes and drops any box of the
// same class whose IoU with an already kept box is above iouThreshold.
func nonMaxSuppression(boxes []entity.BoundingBox, iouThreshold float64, maxDetections int) []entity.BoundingBox {
	if len(boxes) == 0 {
		return []entity.BoundingBox{}
	}
	if maxDetections <= 0 {
		maxDetections = DefaultMaxDetections
	}

	sorted := make([]entity.BoundingBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	if len(sorted) > maxCandidates {
		sorted = sorted[:maxCandidates]
	}

	suppressed := make([]bool, len(sorted))
	kept := make([]entity.BoundingBox, 0, len(sorted))

	for i := range sorted {
		if suppressed[i] {
			continue
		}

		kept = append(kept, sorted[i])
		if len(kept) == maxDetections {
			break
		}

		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if intersectionOverUnion(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

func intersectionOverUnion(a, b entity.BoundingBox) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}

	return inter / union
}
