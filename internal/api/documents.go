package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"edgarrag/internal/ingest"
	"edgarrag/internal/util"

	"github.com/rs/zerolog/log"
)

// multipartOverhead is the slack allowed on top of the file limit for form
// fields and part headers.
const multipartOverhead = 1 << 20

var errTooLarge = errors.New("file too large")

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErr(w, http.StatusRequestEntityTooLarge, errTooLarge)
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("%w: parse multipart: %v", util.ErrValidation, err))
		return
	}
	fh, ok := uploadedFile(r.MultipartForm)
	if !ok {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("%w: no file provided", util.ErrValidation))
		return
	}
	if fh.Size > limit {
		writeErr(w, http.StatusRequestEntityTooLarge, errTooLarge)
		return
	}
	size, err := formInt(r, "chunk_size", 0)
	if err != nil {
		writeFailure(w, err)
		return
	}
	overlap, err := formInt(r, "chunk_overlap", -1)
	if err != nil {
		writeFailure(w, err)
		return
	}
	content, err := readPart(fh, limit)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeFailure(w, err)
		return
	}

	doc, err := s.Ingester.IngestDocument(r.Context(), ingest.Upload{
		Filename:     fh.Filename,
		ContentType:  fh.Header.Get("Content-Type"),
		Content:      content,
		ChunkSize:    size,
		ChunkOverlap: overlap,
	})
	if err != nil {
		log.Error().Err(err).Str("filename", fh.Filename).Msg("upload failed")
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":  doc.ID,
		"filename":     doc.Filename,
		"file_type":    doc.FileType,
		"chunks_count": doc.ChunksCount,
		"status":       doc.Status,
	})
}

func (s *Server) handleDocumentCount(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	docs, chunks, err := s.Documents.Counts(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	indexed, err := s.Index.Count(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents":           docs,
		"chunks_postgres":     chunks,
		"chunks_vector_store": indexed,
	})
}

func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit, offset := pageParams(r)
	docs, err := s.Documents.List(r.Context(), limit, offset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "limit": limit, "offset": offset})
}

func (s *Server) handleDocumentScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/"), "/")
	if len(parts) != 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}
	id := parts[0]
	deleted, err := s.Ingester.DeleteDocument(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !deleted {
		writeErr(w, http.StatusNotFound, fmt.Errorf("%w: document %s", util.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "document_id": id})
}

func uploadedFile(form *multipart.Form) (*multipart.FileHeader, bool) {
	if form == nil {
		return nil, false
	}
	if files := form.File["file"]; len(files) > 0 {
		return files[0], true
	}
	for _, files := range form.File {
		if len(files) > 0 {
			return files[0], true
		}
	}
	return nil, false
}

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, errTooLarge
	}
	return b, nil
}

func formInt(r *http.Request, key string, fallback int) (int, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", util.ErrValidation, key)
	}
	return n, nil
}
