package detection

import (
	"net/http"

	"DetectionWeb/pkg/response"
)

var (
	ErrInternalServerError = response.NewError(http.StatusInternalServerError, "An unexpected error occurred")
	ErrUnsupportedFileType = response.NewError(http.StatusUnsupportedMediaType, "Unsupported file type")
	ErrInvalidURLScheme    = response.NewError(http.StatusBadRequest, "Only http/https URLs are allowed")
	ErrImageTooLarge       = response.NewError(http.StatusRequestEntityTooLarge, "Image too large (>5MB)")
	ErrMissingInput        = response.NewError(http.StatusBadRequest, "Please upload a file or provide an image URL")
)

func NewNotImageError(contentType string) error {
	return response.NewErrorf(http.StatusUnsupportedMediaType, "URL is not an image (got %s)", contentType)
}

func NewFetchError(cause error) error {
	return response.NewErrorf(http.StatusBadGateway, "Failed to fetch URL: %s", cause.Error())
}
