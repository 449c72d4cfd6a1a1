package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Default output settings, matching the frame size the Motion wrapper has
// always produced.
const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
	DefaultJPEGQuality = 85
)

// Format is an output still-image encoding.
type Format string

const (
	FormatGIF  Format = "gif"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat accepts gif, jpeg/jpg and png, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gif":
		return FormatGIF, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (use gif, jpeg or png)", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "image/gif"
	}
}

// EncoderConfig describes the frames handed to listeners.
type EncoderConfig struct {
	Width       int
	Height      int
	Format      Format
	JPEGQuality int
	Caption     bool
}

// Encoder decodes a JPEG frame, scales it and re-encodes it.
type Encoder struct {
	cfg EncoderConfig
}

// NewEncoder validates cfg, filling in defaults for zero values.
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if cfg.Width == 0 {
		cfg.Width = DefaultFrameWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultFrameHeight
	}
	if cfg.Width < 0 || cfg.Height < 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	format, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	return &Encoder{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (e *Encoder) Config() EncoderConfig {
	return e.cfg
}

// Encode turns one JPEG part into an output frame for cameraID.
func (e *Encoder) Encode(cameraID string, jpegData []byte, at time.Time) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, e.cfg.Width, e.cfg.Height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	if e.cfg.Caption {
		drawCaption(dst, fmt.Sprintf("%s  %s", cameraID, at.Format("2006-01-02 15:04:05")))
	}

	buf := new(bytes.Buffer)
	switch e.cfg.Format {
	case FormatJPEG:
		err = jpeg.Encode(buf, dst, &jpeg.Options{Quality: e.cfg.JPEGQuality})
	case FormatPNG:
		err = png.Encode(buf, dst)
	default:
		err = gif.Encode(buf, dst, &gif.Options{NumColors: 256})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode %s: %v", ErrDecode, e.cfg.Format, err)
	}
	return buf.Bytes(), nil
}
