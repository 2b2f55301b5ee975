package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/cortexuvula/pagesync/internal/broker"
	"github.com/cortexuvula/pagesync/internal/docstore"
)

const pdfContentType = "application/pdf"

// Upload error messages.
const (
	errFileRequired = "a PDF file is required"
	errOnlyPDF      = "only PDF files can be uploaded"
	errTooLarge     = "file is too large"
	errStoreFailed  = "failed to store file"
)

type roomsResponse struct {
	Success bool                 `json:"success"`
	Rooms   []broker.RoomSummary `json:"rooms"`
}

type uploadResponse struct {
	Success bool             `json:"success"`
	PDF     *broker.Document `json:"pdf,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (a *api) handleRooms(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, roomsResponse{Success: true, Rooms: a.deps.Broker.Rooms()})
}

// handleUpload streams the multipart "pdf" field into the document store.
func (a *api) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config().Upload.MaxFileSize)

	mr, err := r.MultipartReader()
	if err != nil {
		a.uploadFailed(w, r, http.StatusBadRequest, errFileRequired, "bad_request", err)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			a.uploadReadFailed(w, r, err)
			return
		}
		if part.FormName() != "pdf" || part.FileName() == "" {
			part.Close()
			continue
		}

		mediaType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if mediaType != pdfContentType {
			part.Close()
			a.uploadFailed(w, r, http.StatusBadRequest, errOnlyPDF, "wrong_type", nil)
			return
		}

		originalName := part.FileName()
		filename, err := a.deps.Store.Save(r.Context(), originalName, pdfContentType, part)
		part.Close()
		if err != nil {
			a.uploadReadFailed(w, r, err)
			return
		}

		if a.deps.Metrics != nil {
			a.deps.Metrics.UploadsTotal.WithLabelValues("ok").Inc()
		}
		slog.Info("document uploaded", "filename", filename, "original_name", originalName)
		render.JSON(w, r, uploadResponse{
			Success: true,
			PDF:     &broker.Document{Filename: filename, OriginalName: originalName},
		})
		return
	}

	a.uploadFailed(w, r, http.StatusBadRequest, errFileRequired, "missing_file", nil)
}

// uploadReadFailed maps a body or store error to 413 or 500.
func (a *api) uploadReadFailed(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		a.uploadFailed(w, r, http.StatusRequestEntityTooLarge, errTooLarge, "too_large", err)
		return
	}
	a.uploadFailed(w, r, http.StatusInternalServerError, errStoreFailed, "store_error", err)
}

func (a *api) uploadFailed(w http.ResponseWriter, r *http.Request, status int, message, result string, err error) {
	if a.deps.Metrics != nil {
		a.deps.Metrics.UploadsTotal.WithLabelValues(result).Inc()
	}
	if status >= http.StatusInternalServerError {
		slog.Error("upload failed", "error", err)
	} else {
		slog.Debug("upload rejected", "reason", message, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, uploadResponse{Success: false, Error: message})
}

// handleDocument streams a stored document back to the browser.
func (a *api) handleDocument(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	rc, err := a.deps.Store.Open(r.Context(), filename)
	switch {
	case errors.Is(err, docstore.ErrInvalidName):
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	case errors.Is(err, docstore.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		slog.Error("failed to open document", "filename", filename, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", pdfContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("document stream interrupted", "filename", filename, "error", err)
	}
}
