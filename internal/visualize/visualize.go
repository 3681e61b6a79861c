// Package visualize burns the watched region and the lamp state into a frame
// and stores annotated snapshots on disk.
package visualize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultQuality is the JPEG quality used for snapshots.
const DefaultQuality = 85

var (
	colorOn   = color.RGBA{0, 255, 0, 255}
	colorOff  = color.RGBA{255, 0, 0, 255}
	colorText = color.RGBA{255, 255, 255, 255}
)

// Annotator draws the ROI box and status lines onto a copy of a frame.
type Annotator struct {
	thickness int
}

// NewAnnotator creates an Annotator with a 2px box outline.
func NewAnnotator() *Annotator {
	return &Annotator{thickness: 2}
}

// Annotate returns an RGBA copy of frame, origin at (0,0), with roi outlined
// in green (on) or red (off) and the state, pixel count and time printed
// in the top-left corner.
func (a *Annotator) Annotate(frame image.Image, roi image.Rectangle, isOn bool, confidence int, at time.Time) image.Image {
	bounds := frame.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), frame, bounds.Min, draw.Src)

	c, status := colorOff, "GENERATOR OFF"
	if isOn {
		c, status = colorOn, "GENERATOR ON"
	}

	drawBox(rgba, roi.Min.X, roi.Min.Y, roi.Dx(), roi.Dy(), c, a.thickness)
	drawLabel(rgba, roi.Min.X, roi.Min.Y-16, "ROI", c)

	drawLabel(rgba, 10, 10, status, c)
	drawLabel(rgba, 10, 28, fmt.Sprintf("bright px: %d", confidence), colorText)
	drawLabel(rgba, 10, 46, at.Format("2006-01-02 15:04:05"), colorText)
	return rgba
}

// EncodeJPEG encodes img at the given quality (DefaultQuality when <= 0).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBox outlines the rectangle at (x, y) of size w×h, clipped to the image.
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	b := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(b) {
			img.SetRGBA(px, py, c)
		}
	}
	for t := 0; t < thickness; t++ {
		for i := x; i < x+w; i++ {
			set(i, y+t)
			set(i, y+h-1-t)
		}
		for j := y; j < y+h; j++ {
			set(x+t, j)
			set(x+w-1-t, j)
		}
	}
}

// drawLabel prints label on a translucent black strip with its top-left at (x, y).
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	bg := image.Rect(x-2, y-2, x+len(label)*7+2, y+14).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(color.RGBA{0, 0, 0, 180}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
