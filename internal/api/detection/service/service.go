package detectionService

import (
	"context"
	"mime/multipart"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"DetectionWeb/internal/api/detection"
	"DetectionWeb/internal/entity"
	"DetectionWeb/pkg/downloader"
	"DetectionWeb/pkg/redis"
	"DetectionWeb/pkg/utils"
	"DetectionWeb/pkg/yolo"
)

type IDetectionService interface {
	AcquireUpload(ctx context.Context, file *multipart.FileHeader) (*detection.StoredImage, error)
	AcquireURL(ctx context.Context, rawURL string) (*detection.StoredImage, error)
	RunDetection(ctx context.Context, img *detection.StoredImage) (*detection.DetectionResult, error)
}

type Config struct {
	UploadDir    string
	StaticDir    string
	StaticPrefix string
	Thresholds   entity.InferenceOptions
	ClassNames   []string
}

type detectionService struct {
	log        *logrus.Logger
	cfg        Config
	detector   yolo.IDetector
	cache      redis.IRedis
	downloader downloader.IDownloader
	utils      utils.IUtils
	inflight   singleflight.Group
}

// NewDetectionService wires the detection flow. cache may be nil.
func NewDetectionService(
	log *logrus.Logger,
	cfg Config,
	detector yolo.IDetector,
	cache redis.IRedis,
	dl downloader.IDownloader,
	utils utils.IUtils,
) IDetectionService {
	if cfg.StaticPrefix == "" {
		cfg.StaticPrefix = "/static"
	}

	return &detectionService{
		log:        log,
		cfg:        cfg,
		detector:   detector,
		cache:      cache,
		downloader: dl,
		utils:      utils,
	}
}
