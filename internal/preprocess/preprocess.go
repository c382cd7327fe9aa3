// Package preprocess turns raw upload bytes into the square, planar float
// tensor the detection model consumes.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/heic"
	"github.com/kiranshivaraju/holdseg/pkg/models"

	// Extra raster formats accepted from phones and scanners.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyInput = errors.New("empty image payload")
	ErrDecode     = errors.New("image decode failed")
	ErrTooLarge   = errors.New("image dimensions exceed limit")
)

const (
	DefaultSize      = 1024
	DefaultChannels  = 3
	DefaultMaxPixels = 64 << 20
	padValue         = 114
)

// Preprocessor letterboxes images to a fixed square size.
type Preprocessor struct {
	size      int
	channels  int
	maxPixels int
	fill      color.NRGBA
}

// New returns a Preprocessor for an S×S model input with ch channels (1 or 3).
func New(size, ch int) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	if ch != 1 {
		ch = DefaultChannels
	}
	return &Preprocessor{
		size:      size,
		channels:  ch,
		maxPixels: DefaultMaxPixels,
		fill:      color.NRGBA{R: padValue, G: padValue, B: padValue, A: 255},
	}
}

// WithMaxPixels sets the largest accepted width×height. n <= 0 keeps the
// current limit.
func (p *Preprocessor) WithMaxPixels(n int) *Preprocessor {
	if n > 0 {
		p.maxPixels = n
	}
	return p
}

// Size returns the model input edge length.
func (p *Preprocessor) Size() int { return p.size }

// Input is the model tensor plus what is needed to map results back.
type Input struct {
	Tensor models.Tensor
	Letterbox
}

// Run decodes, orients and letterboxes data.
func (p *Preprocessor) Run(data []byte) (*Input, error) {
	if len(data) == 0 {
		return nil, models.NewJobError(models.KindInput, ErrEmptyInput)
	}

	if err := p.checkDimensions(data); err != nil {
		return nil, models.NewJobError(models.KindInput, err)
	}

	img, err := decode(transcode(data))
	if err != nil {
		return nil, models.NewJobError(models.KindDecode, err)
	}

	b := img.Bounds()
	lb := p.fit(b.Dx(), b.Dy())

	resized := imaging.Resize(img, lb.ResizeW, lb.ResizeH, imaging.Lanczos)
	canvas := imaging.Paste(imaging.New(p.size, p.size, p.fill), resized, image.Pt(lb.PadLeft, lb.PadTop))

	return &Input{Tensor: p.planar(canvas), Letterbox: lb}, nil
}

// fit derives the resize and padding geometry for a w×h image.
func (p *Preprocessor) fit(w, h int) Letterbox {
	s := p.size
	aspect := float64(w) / float64(h)
	rw, rh := s, s
	if aspect > 1 {
		rh = max(1, int(math.Round(float64(s)/aspect)))
	} else {
		rw = max(1, int(math.Round(float64(s)*aspect)))
	}
	return Letterbox{
		Size:    s,
		OrigW:   w,
		OrigH:   h,
		ResizeW: rw,
		ResizeH: rh,
		PadLeft: (s - rw) / 2,
		PadTop:  (s - rh) / 2,
	}
}

// planar converts interleaved NRGBA pixels into a [1, C, S, S] tensor in [0,1].
// Alpha is dropped.
func (p *Preprocessor) planar(img *image.NRGBA) models.Tensor {
	s := p.size
	plane := s * s
	out := make([]float32, p.channels*plane)
	for y := 0; y < s; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+s*4]
		for x := 0; x < s; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			i := y*s + x
			if p.channels == 1 {
				lum := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
				out[i] = float32(lum) / 255
				continue
			}
			out[i] = float32(r) / 255
			out[plane+i] = float32(g) / 255
			out[2*plane+i] = float32(b) / 255
		}
	}
	return models.Tensor{
		Shape: []int64{1, int64(p.channels), int64(s), int64(s)},
		Data:  out,
	}
}

// transcode converts HEIC/HEIF uploads to JPEG. Any failure keeps the
// original bytes so the regular decoder gets a chance.
func transcode(data []byte) []byte {
	mt := mimetype.Detect(data)
	if !mt.Is("image/heic") && !mt.Is("image/heif") &&
		!mt.Is("image/heic-sequence") && !mt.Is("image/heif-sequence") {
		return data
	}

	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("heic transcoding failed, using original bytes", "mime", mt.String(), "error", err)
		return data
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		slog.Warn("jpeg re-encode failed, using original bytes", "error", err)
		return data
	}
	return buf.Bytes()
}

// checkDimensions reads only the image header and rejects rasters whose
// pixel count exceeds the limit. Unreadable headers are left to decode.
func (p *Preprocessor) checkDimensions(data []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > int64(p.maxPixels) {
		return fmt.Errorf("%w: %s %dx%d is %d pixels, limit %d",
			ErrTooLarge, format, cfg.Width, cfg.Height, px, p.maxPixels)
	}
	return nil
}

func decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, mimetype.Detect(data).String(), err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrDecode)
	}
	return img, nil
}
