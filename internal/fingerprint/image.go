package fingerprint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// ErrUnsupportedFormat is returned for images that are not PNG or JPEG.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Image is one uploaded picture.
type Image struct {
	Filename string
	Data     []byte
}

// DetectMIMEType detects the MIME type from image magic bytes
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}

// Validate checks the file extension against allowed and the content against
// the PNG and JPEG signatures.
func Validate(img Image, allowed func(ext string) bool) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(img.Filename), "."))
	if ext == "" || !allowed(ext) {
		return fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
	if DetectMIMEType(img.Data) == "application/octet-stream" {
		return fmt.Errorf("%w: %s is not a PNG or JPEG image", ErrUnsupportedFormat, img.Filename)
	}
	return nil
}

// Downscale shrinks an image by factor, keeping its encoding. Factors of
// 1 or more, and non-positive factors, return the data unchanged.
func Downscale(data []byte, factor float64) ([]byte, error) {
	if factor <= 0 || factor >= 1 {
		return data, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	bounds := img.Bounds()
	width := max(1, int(float64(bounds.Dx())*factor))
	height := max(1, int(float64(bounds.Dy())*factor))

	resized := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	case "jpeg":
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

// Downscaling wraps an Extractor and shrinks every image before extraction.
type Downscaling struct {
	Next   Extractor
	Factor float64
}

// Extract downscales the image and delegates to the wrapped extractor.
func (d *Downscaling) Extract(ctx context.Context, imageData []byte) ([]float32, error) {
	scaled, err := Downscale(imageData, d.Factor)
	if err != nil {
		return nil, err
	}
	return d.Next.Extract(ctx, scaled)
}
