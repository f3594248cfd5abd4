package detection

import "strings"

const (
	ImageField    = "image"
	ImageURLField = "image_url"

	// APIPrefix groups the JSON routes. Everything else serves HTML.
	APIPrefix = "/api/v1"
)

// AllowedMimeTypes maps accepted remote Content-Type values to the file
// extension used when storing the download.
var AllowedMimeTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/bmp":  "bmp",
}

type Detection struct {
	ClassID     int        `json:"class_id"`
	ClassName   string     `json:"class_name"`
	Confidence  float64    `json:"confidence"`
	BoundingBox [4]float64 `json:"box_xyxy"`
}

type ErrorEntry struct {
	Error string `json:"error"`
}

// PredictResponse is what the page and the JSON API are rendered from.
// Detections holds either []Detection or a single []ErrorEntry.
type PredictResponse struct {
	Detections interface{} `json:"detections"`
	ImageURL   *string     `json:"image_url"`
}

func NewPredictResponse(detections []Detection, imageURL string) PredictResponse {
	if detections == nil {
		detections = []Detection{}
	}
	return PredictResponse{
		Detections: detections,
		ImageURL:   &imageURL,
	}
}

func NewErrorResponse(message string) PredictResponse {
	return PredictResponse{
		Detections: []ErrorEntry{{Error: message}},
		ImageURL:   nil,
	}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// StoredImage is a file written to the upload directory for one request.
type StoredImage struct {
	Path   string
	Name   string
	Source string
}

func (s StoredImage) Ext() string {
	idx := strings.LastIndex(s.Name, ".")
	if idx < 0 {
		return ""
	}
	return s.Name[idx:]
}

// DetectionResult is the outcome of one detection run on a stored image.
type DetectionResult struct {
	Detections    []Detection
	AnnotatedPath string
	ImageURL      string
}

const IndexView = "index"

// PageView is the data the upload page template is rendered with.
type PageView struct {
	Submitted  bool
	Detections []Detection
	Error      string
	ImageURL   string
}

func NewResultView(result *DetectionResult) PageView {
	return PageView{
		Submitted:  true,
		Detections: result.Detections,
		ImageURL:   result.ImageURL,
	}
}

func NewErrorView(message string) PageView {
	return PageView{
		Submitted: true,
		Error:     message,
	}
}
