package app

import (
	"net/http"

	"go.uber.org/zap"
)

func (s *HTTPServer) routeAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	switch {
	case parts[0] == "favorites" && len(parts) <= 2:
		s.handleFavorites(w, r, session, parts[1:])
		return true

	case parts[0] == "search" && len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return true
		}
		q := r.URL.Query()
		resp, err := s.service.Search(r.Context(), session, SearchInput{
			Text:    q.Get("q"),
			DriveID: q.Get("driveId"),
			Type:    q.Get("type"),
			Limit:   queryInt(r, "limit", 20),
			Offset:  queryInt(r, "offset", 0),
		})
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, resp)
		return true

	// /api/admin/siem/destinations[/{id}[/test]]
	case parts[0] == "admin" && len(parts) >= 3 && parts[1] == "siem" && parts[2] == "destinations":
		s.handleDestinations(w, r, session, parts[3:])
		return true

	case parts[0] == "admin" && len(parts) == 2 && parts[1] == "audit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return true
		}
		q := r.URL.Query()
		items, err := s.service.ListAudit(r.Context(), session, AuditQuery{
			Action:   q.Get("action"),
			ActorID:  q.Get("actorId"),
			Resource: q.Get("resource"),
			Before:   q.Get("before"),
			Limit:    queryInt(r, "limit", 100),
		})
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": items})
		return true

	case parts[0] == "mcp" && len(parts) == 2:
		s.handleMCP(w, r, session, parts[1])
		return true
	}
	return false
}

func (s *HTTPServer) handleFavorites(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch r.Method {
	case http.MethodGet:
		if len(rest) != 0 {
			methodNotAllowed(w)
			return
		}
		items, err := s.service.ListFavorites(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"favorites": items})

	case http.MethodPost, http.MethodDelete:
		pageID := r.URL.Query().Get("pageId")
		if len(rest) == 1 {
			pageID = rest[0]
		}
		if pageID == "" {
			var body struct {
				PageID string `json:"pageId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			pageID = body.PageID
		}
		if pageID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pageId is required", nil)
			return
		}

		var err error
		if r.Method == http.MethodPost {
			err = s.service.AddFavorite(r.Context(), session, pageID)
		} else {
			err = s.service.RemoveFavorite(r.Context(), session, pageID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pageId": pageID})

	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleDestinations(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListDestinations(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"destinations": items})

	case len(rest) == 0 && r.Method == http.MethodPost:
		var body DestinationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		dest, err := s.service.CreateDestination(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, dest)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteDestination(r.Context(), session, rest[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[1] == "test" && r.Method == http.MethodPost:
		result, err := s.service.TestDestination(r.Context(), session, rest[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request, session Session, action string) {
	switch {
	case action == "ws" && r.Method == http.MethodGet:
		// Accept writes its own response once the handshake starts.
		if err := s.service.ServeMCP(w, r, session); err != nil {
			if _, ok := err.(*DomainError); ok {
				s.fail(w, r, err)
				return
			}
			s.logger.Debug("mcp connection ended", zap.String("user_id", session.UserID), zap.Error(err))
		}

	case action == "status" && r.Method == http.MethodGet:
		status, err := s.service.MCPStatus(session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)

	case action == "call" && r.Method == http.MethodPost:
		var body MCPCallInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.MCPCall(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
