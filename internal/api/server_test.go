package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgallion1/docquote/internal/config"
	"github.com/dgallion1/docquote/internal/imageio"
	"github.com/dgallion1/docquote/internal/inference"
	"github.com/dgallion1/docquote/internal/pipeline"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const invoiceDocTags = "<doctag><title><loc_10><loc_10><loc_400><loc_40>Invoice 42</title>" +
	"<text><loc_10><loc_50><loc_400><loc_90>Total due: $12.00</text></doctag><end_of_utterance>"

type fakeGenerator struct {
	out string
	err error
}

func (g fakeGenerator) Generate(ctx context.Context, png []byte, prompt string, maxNewTokens int) (string, error) {
	return g.out, g.err
}

func testConfig() config.Config {
	return config.Config{MaxUploadBytes: 1 << 20}
}

func newTestServer(t *testing.T, gen inference.Generator, cfg config.Config) *Server {
	t.Helper()
	model := inference.NewWithGenerator(gen, inference.Options{Backend: "worker"}, discard)
	p := pipeline.New(imageio.NewLoader(1, 0), model, pipeline.Options{}, discard)
	s, err := NewServer(p, model, discard, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIndex(t *testing.T) {
	s := newTestServer(t, fakeGenerator{}, testConfig())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"Document OCR Text Extractor",
		"Upload an image containing text to extract its content.",
		"Choose an image file",
		".jpeg,.jpg,.pdf,.png,.tif,.tiff",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("index page missing %q", want)
		}
	}
}

func TestExtract_HTML(t *testing.T) {
	s := newTestServer(t, fakeGenerator{out: invoiceDocTags}, testConfig())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "/extract", "scan.png", pngBytes(t, 64, 48)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{
		"Uploaded Image",
		"Extracted Text",
		"<h1>Invoice 42</h1>",
		"data:image/png;base64,",
		"Download Extracted Text",
		"/results/",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("result page missing %q", want)
		}
	}
}

func TestExtract_HTMLFailures(t *testing.T) {
	tests := []struct {
		name     string
		gen      fakeGenerator
		filename string
		data     []byte
		want     int
	}{
		{"unsupported type", fakeGenerator{}, "notes.docx", []byte("PK"), http.StatusBadRequest},
		{"undecodable image", fakeGenerator{}, "scan.png", []byte("not a png"), http.StatusBadRequest},
		{"no parseable content", fakeGenerator{out: "I cannot read this page."}, "scan.png", nil, http.StatusUnprocessableEntity},
		{"inference error", fakeGenerator{err: errors.New("connection refused")}, "scan.png", nil, http.StatusBadGateway},
		{"inference timeout", fakeGenerator{err: context.DeadlineExceeded}, "scan.png", nil, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data
			if data == nil {
				data = pngBytes(t, 32, 32)
			}
			s := newTestServer(t, tt.gen, testConfig())
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, uploadRequest(t, "/extract", tt.filename, data))

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), "Try another file") {
				t.Error("expected error page")
			}
		})
	}
}

func TestExtract_ModelUnavailable(t *testing.T) {
	model := inference.New(inference.Options{Backend: "bogus"}, discard)
	p := pipeline.New(imageio.NewLoader(1, 0), model, pipeline.Options{}, discard)
	s, err := NewServer(p, model, discard, testConfig())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "/extract", "scan.png", pngBytes(t, 16, 16)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestExtract_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 1024
	s := newTestServer(t, fakeGenerator{out: invoiceDocTags}, cfg)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "/api/extract", "scan.png", bytes.Repeat([]byte{0}, 4096)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestExtract_MissingFile(t *testing.T) {
	s := newTestServer(t, fakeGenerator{}, testConfig())
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("other", "x")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAPIExtractAndDownload(t *testing.T) {
	s := newTestServer(t, fakeGenerator{out: invoiceDocTags}, testConfig())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "/api/extract", "../../scan.png", pngBytes(t, 64, 48)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp extractResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" || resp.Pages != 1 || len(resp.DocTags) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Filename != "scan.png" {
		t.Errorf("expected sanitized filename, got %q", resp.Filename)
	}
	if !strings.HasPrefix(resp.Markdown, "# Invoice 42") {
		t.Errorf("unexpected markdown %q", resp.Markdown)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, resp.DownloadURL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="extracted_text.md"` {
		t.Errorf("unexpected content disposition %q", cd)
	}
	if rec.Body.String() != resp.Markdown {
		t.Errorf("download body differs from markdown")
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results/"+resp.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("result lookup: expected 200, got %d", rec.Code)
	}
}

func TestResultNotFound(t *testing.T) {
	s := newTestServer(t, fakeGenerator{}, testConfig())
	for _, path := range []string{"/results/missing/download", "/api/results/missing"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestAPIAuth(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "secret"
	s := newTestServer(t, fakeGenerator{}, cfg)

	tests := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/stats/inference", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("Authorization %q: expected %d, got %d", tt.header, tt.want, rec.Code)
		}
	}

	// Browser routes stay open.
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("index: expected 200, got %d", rec.Code)
	}
}

func TestInferenceStats(t *testing.T) {
	s := newTestServer(t, fakeGenerator{out: invoiceDocTags}, testConfig())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "/api/extract", "scan.png", pngBytes(t, 32, 32)))
	if rec.Code != http.StatusOK {
		t.Fatalf("extract: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/inference", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Model   string                   `json:"model"`
		Backend string                   `json:"backend"`
		Stats   inference.StatsSnapshot `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Model != inference.DefaultModelID || resp.Backend != "worker" {
		t.Errorf("unexpected model info: %+v", resp)
	}
	if resp.Stats.Count != 1 || resp.Stats.Errors != 0 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, fakeGenerator{}, testConfig())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestPreviewer_DropsRawHTML(t *testing.T) {
	out, err := NewPreviewer().Render("| a | b |\n|---|---|\n| 1 | 2 |\n\n<script>alert(1)</script>\n")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(out), "<table>") {
		t.Errorf("expected GFM table, got %s", out)
	}
	if strings.Contains(string(out), "<script>") {
		t.Errorf("raw html leaked into preview: %s", out)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"scan.png":          "scan.png",
		"../../etc/passwd":  "passwd",
		"a..b.pdf":          "a_b.pdf",
		"":                  "unnamed",
		"dir/sub/photo.jpg": "photo.jpg",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
