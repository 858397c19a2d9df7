package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgallion1/docquote/internal/doctags"
	"github.com/dgallion1/docquote/internal/imageio"
	"github.com/dgallion1/docquote/internal/inference"
	"github.com/dgallion1/docquote/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

const downloadName = "extracted_text.md"

// uploadError carries the status to report for a rejected upload.
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", map[string]any{
		"Title":       pageTitle,
		"Accept":      acceptList(),
		"MaxUploadMB": s.cfg.MaxUploadBytes >> 20,
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	filename, data, err := s.readUpload(w, r)
	if err != nil {
		s.renderError(w, statusFor(err), err)
		return
	}

	res, err := s.extractor.Process(r.Context(), filename, data)
	if err != nil {
		s.renderError(w, statusFor(err), err)
		return
	}

	preview, err := s.preview.Render(res.Markdown)
	if err != nil {
		s.log.Warn("markdown preview failed", "result_id", res.ID, "error", err)
		preview = template.HTML("<pre>" + template.HTMLEscapeString(res.Markdown) + "</pre>")
	}

	images := make([]template.URL, 0, len(res.Previews))
	for _, png := range res.Previews {
		images = append(images, template.URL("data:image/png;base64,"+base64.StdEncoding.EncodeToString(png)))
	}

	s.render(w, http.StatusOK, "result.html", map[string]any{
		"Title":       pageTitle,
		"Images":      images,
		"Preview":     preview,
		"Markdown":    res.Markdown,
		"DownloadURL": downloadURL(res.ID),
		"Filename":    res.Filename,
		"Pages":       res.Pages,
		"DurationMs":  res.Duration.Milliseconds(),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	res := s.extractor.Result(chi.URLParam(r, "id"))
	if res == nil {
		http.Error(w, "result not found or expired", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	io.WriteString(w, res.Markdown)
}

type extractResponse struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	Markdown    string   `json:"markdown"`
	DocTags     []string `json:"doctags"`
	Pages       int      `json:"pages"`
	DurationMs  int64    `json:"duration_ms"`
	DownloadURL string   `json:"download_url"`
}

func newExtractResponse(res *pipeline.Result) extractResponse {
	return extractResponse{
		ID:          res.ID,
		Filename:    res.Filename,
		Markdown:    res.Markdown,
		DocTags:     res.DocTags,
		Pages:       res.Pages,
		DurationMs:  res.Duration.Milliseconds(),
		DownloadURL: downloadURL(res.ID),
	}
}

func (s *Server) handleAPIExtract(w http.ResponseWriter, r *http.Request) {
	filename, data, err := s.readUpload(w, r)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	res, err := s.extractor.Process(r.Context(), filename, data)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newExtractResponse(res))
}

func (s *Server) handleAPIResult(w http.ResponseWriter, r *http.Request) {
	res := s.extractor.Result(chi.URLParam(r, "id"))
	if res == nil {
		jsonError(w, "result not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newExtractResponse(res))
}

// readUpload pulls the "file" part out of a multipart request and enforces
// the type and size limits.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)}
		}
		return "", nil, &uploadError{http.StatusBadRequest, "invalid multipart form: " + err.Error()}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, &uploadError{http.StatusBadRequest, "file is required: " + err.Error()}
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !imageio.IsSupportedExtension(filename) {
		return "", nil, &uploadError{http.StatusBadRequest, fmt.Sprintf("unsupported file type: %q (accepted: %s)", filepath.Ext(filename), acceptList())}
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return "", nil, &uploadError{http.StatusInternalServerError, "failed to read file"}
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return "", nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)}
	}
	return filename, data, nil
}

// statusFor maps pipeline failures onto HTTP statuses.
func statusFor(err error) int {
	var ue *uploadError
	switch {
	case errors.As(err, &ue):
		return ue.status
	case errors.Is(err, pipeline.ErrBadInput):
		return http.StatusBadRequest
	case errors.Is(err, doctags.ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inference.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrInference):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("render template", "template", name, "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, err error) {
	s.render(w, status, "error.html", map[string]any{
		"Title":   pageTitle,
		"Status":  fmt.Sprintf("%d %s", status, http.StatusText(status)),
		"Message": err.Error(),
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func downloadURL(id string) string {
	return "/results/" + id + "/download"
}

func acceptList() string {
	exts := make([]string, 0, len(imageio.SupportedExtensions))
	for ext := range imageio.SupportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ",")
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
