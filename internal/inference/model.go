package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/docquote/internal/imageio"
)

// ErrModelUnavailable wraps failures to create the model handle.
var ErrModelUnavailable = errors.New("model unavailable")

// Generator produces DocTags for one PNG-encoded page.
type Generator interface {
	Generate(ctx context.Context, png []byte, prompt string, maxNewTokens int) (string, error)
}

// Options configures a Model.
type Options struct {
	Backend       string // "openai" or "worker"
	URL           string
	APIKey        string
	ModelID       string
	Prompt        string
	MaxNewTokens  int
	Timeout       time.Duration
	MaxConcurrent int
	StatsWindow   time.Duration
}

func (o *Options) applyDefaults() {
	if o.Backend == "" {
		o.Backend = "openai"
	}
	if o.ModelID == "" {
		o.ModelID = DefaultModelID
	}
	if o.Prompt == "" {
		o.Prompt = DefaultPrompt
	}
	if o.MaxNewTokens <= 0 {
		o.MaxNewTokens = DefaultMaxNewTokens
	}
	if o.Timeout <= 0 {
		o.Timeout = 300 * time.Second
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 1
	}
}

// Model is the process-wide handle to the vision model. The backend client is
// built on first use and reused for the life of the process; concurrent
// generations are capped at Options.MaxConcurrent.
type Model struct {
	opts    Options
	factory func(Options) (Generator, error)
	logger  *slog.Logger

	once    sync.Once
	gen     Generator
	initErr error

	sem   chan struct{}
	stats *Stats
}

func New(opts Options, logger *slog.Logger) *Model {
	return newModel(opts, newBackend, logger)
}

// NewWithGenerator wraps an existing backend, skipping lazy construction.
func NewWithGenerator(gen Generator, opts Options, logger *slog.Logger) *Model {
	return newModel(opts, func(Options) (Generator, error) { return gen, nil }, logger)
}

func newModel(opts Options, factory func(Options) (Generator, error), logger *slog.Logger) *Model {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		opts:    opts,
		factory: factory,
		logger:  logger,
		sem:     make(chan struct{}, opts.MaxConcurrent),
		stats:   NewStats(opts.StatsWindow),
	}
}

func newBackend(opts Options) (Generator, error) {
	switch opts.Backend {
	case "openai":
		return NewOpenAIClient(opts.URL, opts.APIKey, opts.ModelID)
	case "worker":
		return NewWorkerClient(opts.URL, opts.APIKey, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", opts.Backend)
	}
}

func (m *Model) load() (Generator, error) {
	m.once.Do(func() {
		start := time.Now()
		m.gen, m.initErr = m.factory(m.opts)
		if m.initErr != nil {
			m.logger.Error("model init failed", "backend", m.opts.Backend, "error", m.initErr)
			return
		}
		m.logger.Info("model ready",
			"backend", m.opts.Backend,
			"model", m.opts.ModelID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
	if m.initErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, m.initErr)
	}
	return m.gen, nil
}

// Generate runs the model on one page and returns its DocTags output with
// leading whitespace removed.
func (m *Model) Generate(ctx context.Context, img image.Image) (string, error) {
	gen, err := m.load()
	if err != nil {
		return "", err
	}

	png, err := imageio.EncodePNG(img)
	if err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-m.sem }()

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	start := time.Now()
	out, err := gen.Generate(ctx, png, m.opts.Prompt, m.opts.MaxNewTokens)
	elapsed := time.Since(start)
	m.stats.Record(elapsed, err != nil)
	if err != nil {
		m.logger.Warn("generation failed", "duration_ms", elapsed.Milliseconds(), "error", err)
		return "", err
	}
	m.logger.Debug("generation done", "duration_ms", elapsed.Milliseconds(), "chars", len(out))

	return strings.TrimLeft(out, " \t\r\n"), nil
}

// Concurrency is the generation limit, used to size page fan-out.
func (m *Model) Concurrency() int { return m.opts.MaxConcurrent }

func (m *Model) ID() string { return m.opts.ModelID }

func (m *Model) Backend() string { return m.opts.Backend }

func (m *Model) Stats() StatsSnapshot { return m.stats.Snapshot() }

// Close releases backend resources if the backend was ever built.
func (m *Model) Close() {
	if c, ok := m.gen.(interface{ Close() }); ok {
		c.Close()
	}
}
