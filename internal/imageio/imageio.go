package imageio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/tiff"
)

// ErrUnsupported is returned for file types the loader cannot handle.
var ErrUnsupported = errors.New("unsupported file type")

// SupportedExtensions lists the upload types accepted by the front-end.
var SupportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tiff": true,
	".tif":  true,
	".pdf":  true,
}

// Page is one decoded bitmap, 0-indexed in upload order.
type Page struct {
	Index int
	Image image.Image
}

// Loader turns uploaded bytes into bitmaps.
type Loader struct {
	MaxPDFPages int
	DPI         int
	Rasterizer  Rasterizer
}

// NewLoader returns a loader that rasterizes PDFs with pdftoppm.
func NewLoader(maxPDFPages, dpi int) *Loader {
	if maxPDFPages <= 0 {
		maxPDFPages = 1
	}
	if dpi <= 0 {
		dpi = 144
	}
	return &Loader{
		MaxPDFPages: maxPDFPages,
		DPI:         dpi,
		Rasterizer:  Pdftoppm{},
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Load decodes an uploaded file. Images yield a single page; PDFs yield up
// to MaxPDFPages rendered pages.
func (l *Loader) Load(ctx context.Context, data []byte, filename string) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !SupportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if ext == ".pdf" {
		return l.loadPDF(ctx, data)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return []Page{{Index: 0, Image: img}}, nil
}

// Decode decodes a jpeg, png or tiff bitmap.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// EncodePNG encodes a bitmap as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// CropPNG crops box out of img and encodes it as PNG. A box that falls
// outside the image is clipped; an empty result yields nil data.
func CropPNG(img image.Image, box image.Rectangle) ([]byte, error) {
	rect := box.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, nil
	}
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)
	return EncodePNG(cropped)
}
