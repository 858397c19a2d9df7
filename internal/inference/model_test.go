package inference

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeGenerator struct {
	out   string
	err   error
	delay time.Duration

	mu        sync.Mutex
	prompt    string
	maxTokens int

	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, png []byte, prompt string, maxNewTokens int) (string, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.prompt = prompt
	f.maxTokens = maxNewTokens
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.out, f.err
}

func blankPage() image.Image {
	return image.NewGray(image.Rect(0, 0, 4, 4))
}

func TestModel_GenerateTrimsLeadingWhitespace(t *testing.T) {
	gen := &fakeGenerator{out: "\n  <doctag><text>x</text></doctag>  "}
	m := NewWithGenerator(gen, Options{}, discard)

	out, err := m.Generate(context.Background(), blankPage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "<doctag><text>x</text></doctag>  " {
		t.Errorf("expected only leading whitespace trimmed, got %q", out)
	}
	if gen.prompt != DefaultPrompt {
		t.Errorf("expected default prompt, got %q", gen.prompt)
	}
	if gen.maxTokens != DefaultMaxNewTokens {
		t.Errorf("expected %d max tokens, got %d", DefaultMaxNewTokens, gen.maxTokens)
	}
	if snap := m.Stats(); snap.Count != 1 || snap.Errors != 0 {
		t.Errorf("expected one successful sample, got %+v", snap)
	}
}

func TestModel_GenerateError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	m := NewWithGenerator(gen, Options{}, discard)

	if _, err := m.Generate(context.Background(), blankPage()); err == nil {
		t.Fatal("expected error")
	}
	if snap := m.Stats(); snap.Errors != 1 {
		t.Errorf("expected error recorded, got %+v", snap)
	}
}

func TestModel_InitOnceAndFailure(t *testing.T) {
	var calls atomic.Int32
	m := newModel(Options{}, func(Options) (Generator, error) {
		calls.Add(1)
		return nil, errors.New("no gpu")
	}, discard)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Generate(context.Background(), blankPage())
			if !errors.Is(err, ErrModelUnavailable) {
				t.Errorf("expected ErrModelUnavailable, got %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected factory called once, got %d", calls.Load())
	}
}

func TestModel_SerializesGeneration(t *testing.T) {
	gen := &fakeGenerator{out: "<text>x</text>", delay: 20 * time.Millisecond}
	m := NewWithGenerator(gen, Options{MaxConcurrent: 1}, discard)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Generate(context.Background(), blankPage()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := gen.peak.Load(); peak != 1 {
		t.Errorf("expected at most 1 concurrent generation, got %d", peak)
	}
}

func TestModel_Timeout(t *testing.T) {
	gen := &fakeGenerator{out: "late", delay: time.Second}
	m := NewWithGenerator(gen, Options{Timeout: 10 * time.Millisecond}, discard)

	_, err := m.Generate(context.Background(), blankPage())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestModel_UnknownBackend(t *testing.T) {
	m := New(Options{Backend: "carrier-pigeon"}, discard)
	_, err := m.Generate(context.Background(), blankPage())
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	m := NewWithGenerator(&fakeGenerator{}, Options{}, discard)
	if m.ID() != DefaultModelID {
		t.Errorf("expected default model id, got %q", m.ID())
	}
	if m.Backend() != "openai" {
		t.Errorf("expected openai backend by default, got %q", m.Backend())
	}
	if m.Concurrency() != 1 {
		t.Errorf("expected concurrency 1, got %d", m.Concurrency())
	}
}
