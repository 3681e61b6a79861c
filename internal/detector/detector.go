// Package detector classifies a frame as lamp-on or lamp-off by counting
// bright pixels inside a fixed region of interest.
package detector

import (
	"errors"
	"fmt"
	"image"
)

// RedMargin is how far below the brightness threshold a red channel value
// may sit and still count as bright.
const RedMargin = 50

var (
	// ErrInvalidConfig is returned by New for unusable parameters.
	ErrInvalidConfig = errors.New("invalid detector configuration")
	// ErrEmptyFrame is returned for nil or zero-sized frames.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrROIOutOfBounds is returned when the ROI does not fit inside the frame.
	ErrROIOutOfBounds = errors.New("roi out of frame bounds")
)

// Config holds the ROI rectangle and thresholds.
type Config struct {
	X, Y, Width, Height int
	Threshold           int
	MinBrightPixels     int
}

// Reading is the result of one detection.
type Reading struct {
	IsOn       bool `json:"is_on"`
	Confidence int  `json:"confidence"`
	LumaCount  int  `json:"luma_count"`
	RedCount   int  `json:"red_count"`
}

// BrightSpot counts bright pixels in a rectangular region.
type BrightSpot struct {
	roi       image.Rectangle
	threshold int
	minPixels int
}

// New validates cfg and creates a BrightSpot detector.
func New(cfg Config) (*BrightSpot, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: ROI width and height must be positive", ErrInvalidConfig)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 255 {
		return nil, fmt.Errorf("%w: brightness threshold must be between 0 and 255", ErrInvalidConfig)
	}
	if cfg.MinBrightPixels < 0 {
		return nil, fmt.Errorf("%w: min bright pixels must be non-negative", ErrInvalidConfig)
	}
	return &BrightSpot{
		roi:       image.Rect(cfg.X, cfg.Y, cfg.X+cfg.Width, cfg.Y+cfg.Height),
		threshold: cfg.Threshold,
		minPixels: cfg.MinBrightPixels,
	}, nil
}

// ROI returns the watched rectangle relative to the frame's top-left corner.
func (d *BrightSpot) ROI() image.Rectangle {
	return d.roi
}

// Detect measures the ROI of frame. On any fault it returns a zero Reading
// together with the error; it never panics.
func (d *BrightSpot) Detect(frame image.Image) (r Reading, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = Reading{}, fmt.Errorf("detector panic: %v", p)
		}
	}()

	if frame == nil {
		return Reading{}, ErrEmptyFrame
	}
	bounds := frame.Bounds()
	if bounds.Empty() {
		return Reading{}, ErrEmptyFrame
	}
	roi := d.roi.Add(bounds.Min)
	if !roi.In(bounds) {
		return Reading{}, fmt.Errorf("%w: roi %v, frame %v", ErrROIOutOfBounds, d.roi, bounds.Size())
	}

	luma, red := countBright(frame, roi, d.threshold)
	confidence := max(luma, red)
	return Reading{
		IsOn:       confidence >= d.minPixels,
		Confidence: confidence,
		LumaCount:  luma,
		RedCount:   red,
	}, nil
}

// countBright returns the number of pixels in roi whose luminance reaches
// threshold and, for color frames, whose red channel reaches threshold-RedMargin.
func countBright(frame image.Image, roi image.Rectangle, threshold int) (luma, red int) {
	_, singleChannel := frame.(*image.Gray)
	if _, ok := frame.(*image.Gray16); ok {
		singleChannel = true
	}
	redThreshold := threshold - RedMargin

	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			r32, g32, b32, _ := frame.At(x, y).RGBA()
			r, g, b := int(r32>>8), int(g32>>8), int(b32>>8)

			if luminance(r, g, b) >= threshold {
				luma++
			}
			if !singleChannel && r >= redThreshold {
				red++
			}
		}
	}
	return luma, red
}

// luminance uses the ITU-R BT.601 weights, rounded to the nearest integer.
func luminance(r, g, b int) int {
	return (299*r + 587*g + 114*b + 500) / 1000
}
