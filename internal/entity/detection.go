package entity

type BoundingBox struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

func (b BoundingBox) Width() float64 {
	return b.X2 - b.X1
}

func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}

func (b BoundingBox) Area() float64 {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// InferenceResult is the raw output of one engine call on one image.
// Names holds the labels embedded in the engine, indexed by class id.
type InferenceResult struct {
	Boxes []BoundingBox `json:"boxes"`
	Names []string      `json:"names,omitempty"`
}

type InferenceOptions struct {
	Conf float64 `json:"conf"`
	IoU  float64 `json:"iou"`
}
