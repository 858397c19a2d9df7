package imageio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// Rasterizer renders the first n pages of a PDF file to bitmaps.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, pages, dpi int) ([]image.Image, error)
}

func (l *Loader) loadPDF(ctx context.Context, data []byte) ([]Page, error) {
	// ledongthuc/pdf and pdftoppm both want a file on disk.
	dir, err := os.MkdirTemp("", "docextract-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "upload.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	total, err := CountPDFPages(path)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, errors.New("pdf has no pages")
	}
	n := min(total, l.MaxPDFPages)

	imgs, err := l.Rasterizer.Rasterize(ctx, path, n, l.DPI)
	if err != nil {
		return nil, err
	}
	pages := make([]Page, len(imgs))
	for i, img := range imgs {
		pages[i] = Page{Index: i, Image: img}
	}
	return pages, nil
}

// CountPDFPages opens a PDF and returns its page count.
func CountPDFPages(path string) (int, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return reader.NumPage(), nil
}

// Pdftoppm rasterizes with the poppler pdftoppm binary.
type Pdftoppm struct{}

func (Pdftoppm) Rasterize(ctx context.Context, path string, pages, dpi int) ([]image.Image, error) {
	prefix := filepath.Join(filepath.Dir(path), "page")
	args := []string{
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", "1",
		"-l", strconv.Itoa(pages),
		path,
		prefix,
	}
	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errors.New("no rendered pages found")
	}
	sort.Slice(matches, func(i, j int) bool {
		return pageIndexFromName(matches[i]) < pageIndexFromName(matches[j])
	})

	imgs := make([]image.Image, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		img, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("rendered page %s: %w", filepath.Base(m), err)
		}
		imgs = append(imgs, img)
	}
	return imgs, nil
}

// pageIndexFromName extracts N from "page-N.png" (pdftoppm zero-pads N).
func pageIndexFromName(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
