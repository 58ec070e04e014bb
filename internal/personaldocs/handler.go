package personaldocs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openregs/regassist/internal/storage"
)

const maxUploadBytes = 20 << 20 // matches Limits.MaxSizeBytes; bounds the multipart parse itself

// NewHandler mounts the upload/list/delete routes for personal documents.
// Authentication (resolving the caller's fingerprint) happens upstream;
// this handler trusts the fingerprint and index form values/query params
// it's given, mirroring how the fixed tool catalog trusts its injected
// context rather than re-deriving it.
func NewHandler(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/documents", handleUpload(svc))
	r.Get("/documents", handleList(svc))
	r.Delete("/documents/{id}", handleDelete(svc))
	return r
}

func handleUpload(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to parse multipart form: %v", err)
			return
		}

		fingerprint := r.FormValue("fingerprint")
		if fingerprint == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fingerprint is required")
			return
		}
		indexName := r.FormValue("index")
		if indexName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "index is required")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read file: %v", err)
			return
		}

		doc, err := svc.Upload(r.Context(), fingerprint, header.Filename, indexName, data)
		switch {
		case errors.Is(err, ErrTooLarge):
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds maximum upload size")
			return
		case errors.Is(err, ErrQuotaExceeded):
			httpError(w, http.StatusForbidden, "invalid_request_error", "maximum personal document count reached")
			return
		case errors.Is(err, ErrDuplicate):
			httpError(w, http.StatusConflict, "invalid_request_error", "a document with this content has already been uploaded")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "upload failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":         doc.ID,
			"title":      doc.Title,
			"pages":      doc.PageCount,
			"uploaded_at": doc.FetchedAt,
			"indexed":    doc.Indexed,
		})
	}
}

func handleList(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fingerprint := r.URL.Query().Get("fingerprint")
		if fingerprint == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fingerprint is required")
			return
		}

		docs, err := svc.List(fingerprint)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	}
}

func handleDelete(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		fingerprint := r.URL.Query().Get("fingerprint")
		indexName := r.URL.Query().Get("index")
		if fingerprint == "" || indexName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fingerprint and index are required")
			return
		}

		err := svc.Delete(r.Context(), fingerprint, indexName, id)
		switch {
		case errors.Is(err, ErrForbidden):
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "delete failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
