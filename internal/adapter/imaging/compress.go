// Package imaging shrinks camera images to fit a byte budget.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoding for live view frames and test fixtures
	"net/http"

	"golang.org/x/image/draw"
)

// ErrUndecodable is returned when the input is not a JPEG or PNG image.
var ErrUndecodable = errors.New("image cannot be decoded")

const (
	maxQuality     = 95
	defaultMinQual = 10
	qualityStep    = 5
	resizeQuality  = 75
)

// Options controls a compression run.
type Options struct {
	TargetBytes int // desired upper bound on output size
	MinQuality  int // lowest JPEG quality tried before resizing; default 10
}

// Result is the outcome of Compress.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Compressed  bool // false when the input was returned unchanged
}

// Compress re-encodes data as JPEG until it fits opts.TargetBytes, first by
// lowering quality and then by downscaling. The output is never larger than
// the input: when nothing beats the original, the original is returned.
func Compress(data []byte, opts Options) (*Result, error) {
	if opts.MinQuality <= 0 || opts.MinQuality > maxQuality {
		opts.MinQuality = defaultMinQual
	}

	if opts.TargetBytes <= 0 || len(data) <= opts.TargetBytes {
		return unchanged(data), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	best := data
	bestBounds := img.Bounds()

	for q := maxQuality; q >= opts.MinQuality; q -= qualityStep {
		out, err := encode(img, q)
		if err != nil {
			return nil, err
		}
		if len(out) < len(best) {
			best, bestBounds = out, img.Bounds()
		}
		if len(out) <= opts.TargetBytes {
			return compressed(out, img.Bounds()), nil
		}
	}

	for step := 9; step >= 1; step-- {
		scaled := resize(img, float64(step)/10)
		if scaled == nil {
			break
		}
		out, err := encode(scaled, resizeQuality)
		if err != nil {
			return nil, err
		}
		if len(out) < len(best) {
			best, bestBounds = out, scaled.Bounds()
		}
		if len(out) <= opts.TargetBytes {
			return compressed(out, scaled.Bounds()), nil
		}
	}

	if len(best) < len(data) {
		return compressed(best, bestBounds), nil
	}
	return unchanged(data), nil
}

// Dimensions reports the pixel size of an encoded image without decoding it
// fully. Zeroes are returned for unrecognised formats.
func Dimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func unchanged(data []byte) *Result {
	w, h := Dimensions(data)
	return &Result{
		Data:        data,
		ContentType: http.DetectContentType(data),
		Width:       w,
		Height:      h,
	}
}

func compressed(data []byte, b image.Rectangle) *Result {
	return &Result{
		Data:        data,
		ContentType: "image/jpeg",
		Width:       b.Dx(),
		Height:      b.Dy(),
		Compressed:  true,
	}
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg q%d: %w", quality, err)
	}
	return buf.Bytes(), nil
}

// resize scales img by factor with Catmull-Rom resampling. It returns nil
// when the result would be empty.
func resize(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	w := int(float64(b.Dx()) * factor)
	h := int(float64(b.Dy()) * factor)
	if w < 1 || h < 1 {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
