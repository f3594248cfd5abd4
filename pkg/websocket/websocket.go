package websocketPkg

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"DetectionWeb/internal/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrNotConfigured = errors.New("inference websocket URL not configured")

type Config struct {
	URL          string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type predictRequest struct {
	Image string  `json:"image"`
	Conf  float64 `json:"conf"`
	IoU   float64 `json:"iou"`
}

type remoteBox struct {
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	XYXY       [4]float64 `json:"xyxy"`
}

type predictResponse struct {
	Names []string    `json:"names"`
	Boxes []remoteBox `json:"boxes"`
	Error string      `json:"error,omitempty"`
}

// RemoteDetector forwards images to an inference worker over a single
// websocket connection. One request is in flight per connection.
type RemoteDetector struct {
	cfg  Config
	log  *logrus.Logger
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

func NewRemoteDetector(cfg Config, logger *logrus.Logger) (*RemoteDetector, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	c := &RemoteDetector{
		cfg:  cfg,
		log:  logger,
		done: make(chan struct{}),
	}

	go c.connectInBackground()
	go c.keepAlive()

	return c, nil
}

func (c *RemoteDetector) connectInBackground() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return
	}
	if err := c.reconnectLocked(); err != nil {
		c.log.WithFields(logrus.Fields{
			"url":   c.cfg.URL,
			"error": err.Error(),
		}).Warn("Initial connection to inference service failed, will retry on demand")
		return
	}
	c.log.WithField("url", c.cfg.URL).Info("Connected to inference service")
}

func (c *RemoteDetector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *RemoteDetector) reconnectLocked() error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.URL, err)
	}

	conn.SetPingHandler(func(appData string) error {
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			c.log.WithField("error", err.Error()).Debug("Error sending pong")
		}
		return nil
	})

	c.conn = conn
	return nil
}

func (c *RemoteDetector) keepAlive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.conn != nil {
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			if err != nil {
				c.log.WithField("error", err.Error()).Warn("Ping failed, marking inference connection as dead")
				_ = c.conn.Close()
				c.conn = nil
			}
		}
		c.mu.Unlock()
	}
}

func (c *RemoteDetector) Predict(ctx context.Context, img image.Image, opts entity.InferenceOptions) (*entity.InferenceResult, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	payload, err := json.Marshal(predictRequest{
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Conf:  opts.Conf,
		IoU:   opts.IoU,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.conn == nil {
		if err := c.reconnectLocked(); err != nil {
			return nil, fmt.Errorf("cannot connect to inference service: %w", err)
		}
	}
	conn := c.conn

	deadline := time.Now().Add(c.cfg.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("error sending frame: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, message, err := conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("error reading inference response: %w", err)
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	var resp predictResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return nil, fmt.Errorf("error unmarshaling inference response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("inference service: %s", resp.Error)
	}

	c.log.WithField("boxes", len(resp.Boxes)).Debug("Received response from inference service")

	result := &entity.InferenceResult{
		Boxes: make([]entity.BoundingBox, 0, len(resp.Boxes)),
		Names: resp.Names,
	}
	for _, b := range resp.Boxes {
		result.Boxes = append(result.Boxes, entity.BoundingBox{
			ClassID:    b.ClassID,
			Confidence: b.Confidence,
			X1:         b.XYXY[0],
			Y1:         b.XYXY[1],
			X2:         b.XYXY[2],
			Y2:         b.XYXY[3],
		})
	}

	return result, nil
}

func (c *RemoteDetector) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *RemoteDetector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}

	if c.conn == nil {
		return nil
	}

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout),
	)
	err := c.conn.Close()
	c.conn = nil
	return err
}
