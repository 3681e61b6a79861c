// Package camera grabs frames from an RTSP/HTTP stream through ffmpeg, from a
// V4L2 device, or by polling an HTTP JPEG snapshot endpoint.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"genwatch/internal/logging"
)

var (
	ErrNotConnected   = errors.New("camera not connected")
	ErrConnectTimeout = errors.New("timed out waiting for first frame")
	ErrStaleFrame     = errors.New("no fresh frame available")
	ErrStreamClosed   = errors.New("frame stream closed")
)

// Options configures a Camera.
type Options struct {
	URL            string
	Name           string
	FPS            int
	ConnectTimeout time.Duration
	StaleAfter     time.Duration
	HTTPTimeout    time.Duration
	FFmpegPath     string
	Logger         *slog.Logger
}

// Camera is a single frame source. Streams are decoded by a background ffmpeg
// process that keeps only the latest frame; snapshot endpoints are fetched on
// every Frame call.
type Camera struct {
	opts       Options
	logger     *slog.Logger
	httpClient *http.Client

	mu        sync.RWMutex
	connected bool
	cmd       *exec.Cmd
	stopCh    chan struct{}
	done      chan struct{}
	first     chan struct{}
	frame     []byte
	frameAt   time.Time
	frameSeq  uint64
	readErr   error
}

// New creates a Camera. Nothing is opened until Connect.
func New(opts Options) *Camera {
	if opts.FPS <= 0 {
		opts.FPS = 1
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Second
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &Camera{
		opts:       opts,
		logger:     logging.Component(opts.Logger, "camera"),
		httpClient: &http.Client{Timeout: opts.HTTPTimeout},
	}
}

// Name returns a credential-free identity for the camera.
func (c *Camera) Name() string {
	if c.opts.Name != "" {
		return c.opts.Name
	}
	u, err := url.Parse(c.opts.URL)
	if err != nil || u.Host == "" {
		return c.opts.URL
	}
	return u.Host
}

// IsConnected reports whether Connect succeeded and the source has not failed since.
func (c *Camera) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Connect opens the source and waits for a first frame.
func (c *Camera) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	// drop leftovers of a failed stream before starting a new one
	c.Disconnect()

	if isHTTPImageEndpoint(c.opts.URL) {
		if _, err := c.fetchSnapshot(ctx); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", c.Name(), err)
		}
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.logger.Info("connected to snapshot endpoint", "camera", c.Name())
		return nil
	}

	if err := c.startFFmpeg(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.Name(), err)
	}

	c.mu.RLock()
	first, done := c.first, c.done
	c.mu.RUnlock()

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-first:
	case <-done:
		err := c.lastReadErr()
		c.Disconnect()
		return fmt.Errorf("failed to connect to %s: %w: %v", c.Name(), ErrStreamClosed, err)
	case <-timer.C:
		c.Disconnect()
		return fmt.Errorf("failed to connect to %s: %w", c.Name(), ErrConnectTimeout)
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("connected to stream", "camera", c.Name(), "fps", c.opts.FPS)
	return nil
}

// Frame returns the most recent decoded frame.
func (c *Camera) Frame(ctx context.Context) (image.Image, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	if isHTTPImageEndpoint(c.opts.URL) {
		data, err := c.fetchSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		return decode(data)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.connected = false
		err := c.readErr
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	default:
	}
	if c.frame == nil || time.Since(c.frameAt) > c.opts.StaleAfter {
		age := time.Since(c.frameAt)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (age %s)", ErrStaleFrame, age.Round(time.Second))
	}
	data := c.frame
	c.mu.Unlock()

	return decode(data)
}

// Disconnect stops any background reader. Safe to call repeatedly.
func (c *Camera) Disconnect() {
	c.mu.Lock()
	stopCh, cmd, done := c.stopCh, c.cmd, c.done
	wasConnected := c.connected
	c.stopCh, c.cmd = nil, nil
	c.connected = false
	c.frame = nil
	c.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if done != nil {
		<-done
	}
	if wasConnected {
		c.logger.Info("disconnected", "camera", c.Name())
	}
}

func (c *Camera) fetchSnapshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch frame: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return data, nil
}

func (c *Camera) lastReadErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readErr
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// isHTTPImageEndpoint reports whether src is a single-image HTTP endpoint
// rather than a continuous stream.
func isHTTPImageEndpoint(src string) bool {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return false
	}
	lower := strings.ToLower(src)
	return strings.Contains(lower, ".jpg") || strings.Contains(lower, ".jpeg") ||
		strings.Contains(lower, "snapshot") || strings.Contains(lower, "image")
}
