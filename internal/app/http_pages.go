package app

import (
	"errors"
	"mime"
	"net/http"
	"strings"
)

const maxUploadBytes = 100 << 20

func (s *HTTPServer) routePages(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	// /api/pages
	if len(parts) == 1 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return true
		}
		var body CreatePageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		page, err := s.service.CreatePage(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusCreated, page)
		return true
	}

	if len(parts) == 2 && (parts[1] == "bulk-move" || parts[1] == "bulk-copy") {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return true
		}
		if parts[1] == "bulk-move" {
			s.handleBulkMove(w, r, session)
		} else {
			s.handleBulkCopy(w, r, session)
		}
		return true
	}

	pageID := parts[1]

	if len(parts) == 2 {
		s.handlePage(w, r, session, pageID)
		return true
	}

	switch {
	case len(parts) == 3 && parts[2] == "restore" && r.Method == http.MethodPost:
		payload, err := s.service.RestorePage(r.Context(), session, pageID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true

	case len(parts) == 3 && parts[2] == "purge" && r.Method == http.MethodDelete:
		payload, err := s.service.PurgePage(r.Context(), session, pageID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true

	case len(parts) == 3 && parts[2] == "reorder" && r.Method == http.MethodPost:
		var body struct {
			AfterID *string `json:"afterId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.ReorderPage(r.Context(), session, pageID, body.AfterID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true

	case len(parts) >= 3 && parts[2] == "history":
		s.handlePageHistory(w, r, session, pageID, parts[3:])
		return true

	case len(parts) == 3 && parts[2] == "export" && r.Method == http.MethodPost:
		s.handlePageExport(w, r, session, pageID)
		return true

	case len(parts) == 3 && parts[2] == "file":
		s.handlePageFile(w, r, session, pageID)
		return true
	}

	return false
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request, session Session, pageID string) {
	switch r.Method {
	case http.MethodGet:
		page, err := s.service.GetPage(r.Context(), session, pageID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)

	case http.MethodPut:
		var body UpdatePageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		page, err := s.service.UpdatePage(r.Context(), session, pageID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)

	case http.MethodDelete:
		payload, err := s.service.TrashPage(r.Context(), session, pageID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleBulkMove(w http.ResponseWriter, r *http.Request, session Session) {
	var body BulkMoveInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.BulkMove(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleBulkCopy(w http.ResponseWriter, r *http.Request, session Session) {
	var body BulkCopyInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.BulkCopy(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

// handlePageHistory serves /history, /history/{hash} and
// /history/{hash}/restore; rest is the path after "history".
func (s *HTTPServer) handlePageHistory(w http.ResponseWriter, r *http.Request, session Session, pageID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.PageHistory(r.Context(), session, pageID, queryInt(r, "limit", 50))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": items})

	case len(rest) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.RevisionContent(r.Context(), session, pageID, rest[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 2 && rest[1] == "restore" && r.Method == http.MethodPost:
		payload, err := s.service.RestoreRevision(r.Context(), session, pageID, rest[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handlePageExport(w http.ResponseWriter, r *http.Request, session Session, pageID string) {
	var body struct {
		Format string `json:"format"` // "pdf" or "html"
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.ExportPage(r.Context(), session, pageID, body.Format)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Return as downloadable file
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Type", result.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handlePageFile(w http.ResponseWriter, r *http.Request, session Session, pageID string) {
	switch r.Method {
	case http.MethodGet:
		target, err := s.service.FileURL(r.Context(), session, pageID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Location", target)
		writeJSON(w, http.StatusFound, map[string]any{"url": target})

	case http.MethodPut:
		if r.ContentLength > maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Files are limited to 100 MB", nil)
			return
		}
		contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
		defer body.Close()

		file, err := s.service.UploadFile(r.Context(), session, pageID, r.URL.Query().Get("filename"), contentType, r.ContentLength, body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Files are limited to 100 MB", nil)
				return
			}
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, file)

	default:
		methodNotAllowed(w)
	}
}
