// Package processor implements the image operations behind the tool endpoints.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrDecode is returned when the input bytes are not a supported image.
var ErrDecode = errors.New("cannot decode image")

// ErrUnsupported is returned for unknown operations, formats or parameters.
var ErrUnsupported = errors.New("unsupported operation")

// Operation kinds.
const (
	OpResize   = "resize"
	OpCrop     = "crop"
	OpCompress = "compress"
	OpConvert  = "convert"
	OpRotate   = "rotate"
	OpFlip     = "flip"
	OpUpscale  = "upscale"
)

// Operation describes one transformation. Fields irrelevant to Kind are ignored.
type Operation struct {
	Kind      string
	Width     int
	Height    int
	X         int
	Y         int
	Quality   int
	Format    string
	Angle     int
	Direction string
	Scale     float64
}

// Result is the encoded output of an operation.
type Result struct {
	Data        []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

// ImageProcessor transforms raw image bytes. Implementations are synchronous and side-effect free.
type ImageProcessor interface {
	Process(ctx context.Context, input []byte, op Operation) (*Result, error)
}

// ImagingProcessor implements ImageProcessor with the imaging library.
type ImagingProcessor struct {
	maxUpscale float64
	// maxPixels bounds both the decoded source and the rendered output.
	maxPixels  int64
}

// DefaultMaxPixels is 50 megapixels, about 200MB as decoded NRGBA.
const DefaultMaxPixels = 50_000_000

func NewImagingProcessor() *ImagingProcessor {
	return &ImagingProcessor{maxUpscale: 4, maxPixels: DefaultMaxPixels}
}

func (p *ImagingProcessor) tooLarge(w, h int) bool {
	return int64(w)*int64(h) > p.maxPixels
}

var contentTypes = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
	imaging.TIFF: "image/tiff",
	imaging.BMP:  "image/bmp",
}

func (p *ImagingProcessor) Process(ctx context.Context, input []byte, op Operation) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, srcFormat, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	// The header is checked before any pixel buffer is allocated.
	if p.tooLarge(cfg.Width, cfg.Height) {
		return nil, fmt.Errorf("%w: image is %dx%d, limit is %d pixels", ErrUnsupported, cfg.Width, cfg.Height, p.maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	format, err := imaging.FormatFromExtension(srcFormat)
	if err != nil {
		format = imaging.PNG
	}

	var encodeOpts []imaging.EncodeOption
	var out image.Image
	switch op.Kind {
	case OpResize:
		if op.Width <= 0 && op.Height <= 0 {
			return nil, fmt.Errorf("%w: resize needs width or height", ErrUnsupported)
		}
		b := img.Bounds()
		w, h := op.Width, op.Height
		if w <= 0 {
			w = int(float64(h) * float64(b.Dx()) / float64(b.Dy()))
		}
		if h <= 0 {
			h = int(float64(w) * float64(b.Dy()) / float64(b.Dx()))
		}
		if p.tooLarge(w, h) {
			return nil, fmt.Errorf("%w: resize to %dx%d exceeds %d pixels", ErrUnsupported, w, h, p.maxPixels)
		}
		out = imaging.Resize(img, op.Width, op.Height, imaging.Lanczos)
	case OpCrop:
		rect := image.Rect(op.X, op.Y, op.X+op.Width, op.Y+op.Height)
		if op.Width <= 0 || op.Height <= 0 || !rect.In(img.Bounds().Sub(img.Bounds().Min)) {
			return nil, fmt.Errorf("%w: crop rectangle outside image", ErrUnsupported)
		}
		out = imaging.Crop(img, rect)
	case OpCompress:
		out = img
		format = imaging.JPEG
		encodeOpts = append(encodeOpts, imaging.JPEGQuality(clampQuality(op.Quality)))
	case OpConvert:
		target, err := imaging.FormatFromExtension(strings.ToLower(op.Format))
		if err != nil {
			return nil, fmt.Errorf("%w: format %q", ErrUnsupported, op.Format)
		}
		out = img
		format = target
		if op.Quality > 0 {
			encodeOpts = append(encodeOpts, imaging.JPEGQuality(clampQuality(op.Quality)))
		}
	case OpRotate:
		switch ((op.Angle % 360) + 360) % 360 {
		case 0:
			out = img
		case 90:
			out = imaging.Rotate90(img)
		case 180:
			out = imaging.Rotate180(img)
		case 270:
			out = imaging.Rotate270(img)
		default:
			return nil, fmt.Errorf("%w: rotate angle %d", ErrUnsupported, op.Angle)
		}
	case OpFlip:
		switch op.Direction {
		case "horizontal":
			out = imaging.FlipH(img)
		case "vertical":
			out = imaging.FlipV(img)
		default:
			return nil, fmt.Errorf("%w: flip direction %q", ErrUnsupported, op.Direction)
		}
	case OpUpscale:
		if op.Scale <= 1 || op.Scale > p.maxUpscale {
			return nil, fmt.Errorf("%w: upscale factor %.2f", ErrUnsupported, op.Scale)
		}
		b := img.Bounds()
		w := int(float64(b.Dx()) * op.Scale)
		h := int(float64(b.Dy()) * op.Scale)
		if p.tooLarge(w, h) {
			return nil, fmt.Errorf("%w: upscale to %dx%d exceeds %d pixels", ErrUnsupported, w, h, p.maxPixels)
		}
		out = imaging.Sharpen(imaging.Resize(img, w, h, imaging.Lanczos), 0.5)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, op.Kind)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, format, encodeOpts...); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	b := out.Bounds()
	return &Result{
		Data:        buf.Bytes(),
		Format:      strings.ToLower(format.String()),
		ContentType: contentTypes[format],
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

func clampQuality(q int) int {
	switch {
	case q <= 0:
		return 75
	case q > 100:
		return 100
	}
	return q
}
