package camera

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ffmpegArgs builds the command line that turns src into a stream of JPEG
// frames on stdout.
func ffmpegArgs(src string, fps int) []string {
	rate := strconv.Itoa(fps)
	out := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-r", rate, "-q:v", "5", "-"}

	switch {
	case strings.HasPrefix(src, "rtsp://"):
		return append([]string{"-rtsp_transport", "tcp", "-i", src}, out...)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return append([]string{"-i", src}, out...)
	default:
		// V4L2 device
		return append([]string{"-f", "v4l2", "-framerate", rate, "-i", src}, out...)
	}
}

func (c *Camera) startFFmpeg() error {
	cmd := exec.Command(c.opts.FFmpegPath, ffmpegArgs(c.opts.URL, c.opts.FPS)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	stopCh := make(chan struct{})
	done := make(chan struct{})
	c.mu.Lock()
	c.cmd = cmd
	c.stopCh = stopCh
	c.done = done
	c.first = make(chan struct{})
	c.frameSeq = 0
	c.readErr = nil
	c.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.logger.Debug("ffmpeg", "line", scanner.Text())
		}
	}()

	go func() {
		defer close(done)
		err := c.readFrames(stdout, stopCh)
		waitErr := cmd.Wait()
		if err == nil {
			err = waitErr
		}
		c.mu.Lock()
		c.readErr = err
		c.mu.Unlock()
		select {
		case <-stopCh:
		default:
			c.logger.Warn("frame stream ended", "camera", c.Name(), "error", err)
		}
	}()
	return nil
}

// readFrames splits r into JPEG frames and keeps the latest one until r ends
// or stopCh is closed.
func (c *Camera) readFrames(r io.Reader, stopCh <-chan struct{}) error {
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)
	for {
		select {
		case <-stopCh:
			return nil
		default:
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				c.updateFrame(frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}

func (c *Camera) updateFrame(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = frame
	c.frameAt = time.Now()
	c.frameSeq++
	if c.frameSeq == 1 && c.first != nil {
		close(c.first)
	}
	if c.frameSeq%500 == 0 {
		c.logger.Debug("frame received", "camera", c.Name(), "seq", c.frameSeq)
	}
}

// extractJPEGFrame removes and returns the first complete JPEG (FFD8..FFD9)
// from buffer, or nil when none is complete yet.
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	start := -1
	for i := 0; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD8 {
			start = i
			break
		}
	}
	if start == -1 {
		// keep a trailing 0xFF in case the marker is split across reads
		if buf[len(buf)-1] == 0xFF {
			*buffer = buf[len(buf)-1:]
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := -1
	for i := start + 2; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD9 {
			end = i + 2
			break
		}
	}
	if end == -1 {
		*buffer = buf[start:]
		return nil
	}

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])
	*buffer = buf[end:]
	return frame
}
