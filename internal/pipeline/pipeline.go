package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/docquote/internal/doctags"
	"github.com/dgallion1/docquote/internal/doctree"
	"github.com/dgallion1/docquote/internal/imageio"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBadInput means the upload could not be turned into page images.
	ErrBadInput = errors.New("invalid input document")
	// ErrInference means the model call failed for at least one page.
	ErrInference = errors.New("inference failed")
)

// Generator turns one page image into DocTags. *inference.Model satisfies it.
type Generator interface {
	Generate(ctx context.Context, img image.Image) (string, error)
}

// Loader turns an upload into page images. *imageio.Loader satisfies it.
type Loader interface {
	Load(ctx context.Context, data []byte, filename string) ([]imageio.Page, error)
}

type Options struct {
	Pictures doctree.PictureMode
	// Concurrency bounds how many pages are in flight at once.
	Concurrency int
	ResultTTL   time.Duration
}

// Pipeline sequences page loading, generation, DocTags parsing and markdown
// export, and keeps finished results in a TTL store.
type Pipeline struct {
	loader  Loader
	model   Generator
	results *ResultStore
	opts    Options
	log     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(loader Loader, model Generator, opts Options, log *slog.Logger) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Pictures == "" {
		opts.Pictures = doctree.PicturePlaceholder
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		loader:  loader,
		model:   model,
		results: NewResultStore(opts.ResultTTL),
		opts:    opts,
		log:     log,
	}
}

// Start launches the result store cleanup loop.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := p.results.Cleanup(); n > 0 {
					p.log.Debug("evicted results", "count", n)
				}
			}
		}
	}()
}

// Stop ends the cleanup loop.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Result returns a stored result by ID.
func (p *Pipeline) Result(id string) *Result {
	return p.results.Get(id)
}

// Process loads an upload, converts it, and stores the result.
func (p *Pipeline) Process(ctx context.Context, filename string, data []byte) (*Result, error) {
	start := time.Now()
	log := p.log.With("filename", filename, "bytes", len(data))

	pages, err := p.loader.Load(ctx, data, filename)
	if err != nil {
		log.Warn("load failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBadInput, err)
	}

	res, err := p.Run(ctx, pages)
	if err != nil {
		log.Error("conversion failed", "pages", len(pages), "error", err)
		return nil, err
	}

	res.ID = uuid.NewString()
	res.Filename = filename
	res.ContentHash = ContentHashHex(data)
	res.Duration = time.Since(start)
	res.Previews = make([][]byte, 0, len(pages))
	for _, pg := range pages {
		png, err := imageio.EncodePNG(pg.Image)
		if err != nil {
			log.Warn("preview encode failed", "page", pg.Index+1, "error", err)
			continue
		}
		res.Previews = append(res.Previews, png)
	}
	p.results.Put(res)

	log.Info("extraction complete",
		"result_id", res.ID,
		"pages", res.Pages,
		"markdown_chars", len(res.Markdown),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// Run converts already-decoded pages to markdown. Pages are generated
// concurrently up to Options.Concurrency; output order follows page order.
func (p *Pipeline) Run(ctx context.Context, pages []imageio.Page) (*Result, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrBadInput)
	}

	raws := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, pg := range pages {
		g.Go(func() error {
			out, err := p.model.Generate(gctx, pg.Image)
			if err != nil {
				return fmt.Errorf("%w: page %d: %w", ErrInference, i+1, err)
			}
			raws[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	treePages := make([]doctree.Page, len(pages))
	for i, pg := range pages {
		treePages[i] = doctree.Page{Size: pg.Image.Bounds().Size(), Image: pg.Image}
	}
	doc, err := doctags.ParsePages(raws, treePages)
	if err != nil {
		return nil, err
	}

	return &Result{
		Markdown: doc.MarkdownWith(doctree.ExportOptions{Pictures: p.opts.Pictures}),
		DocTags:  raws,
		Pages:    len(pages),
	}, nil
}
