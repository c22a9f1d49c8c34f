package app

import (
	"net/http"
)

// routeDrives handles /api/drives and everything below it. parts has the
// leading "api" stripped.
func (s *HTTPServer) routeDrives(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	// /api/drives → ["drives"]
	if len(parts) == 1 {
		s.handleDrives(w, r, session)
		return true
	}

	driveID := parts[1]

	// /api/drives/{id} → len=2
	if len(parts) == 2 {
		s.handleDrive(w, r, session, driveID)
		return true
	}

	// /api/drives/{id}/members → len=3
	if len(parts) == 3 && parts[2] == "members" {
		s.handleDriveMembers(w, r, session, driveID)
		return true
	}

	// /api/drives/{id}/members/{userId} → len=4
	if len(parts) == 4 && parts[2] == "members" {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return true
		}
		if err := s.service.RemoveMember(r.Context(), session, driveID, parts[3]); err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return true
	}

	// /api/drives/{id}/tree → len=3
	if len(parts) == 3 && parts[2] == "tree" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return true
		}
		payload, err := s.service.Tree(r.Context(), session, driveID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true
	}

	// /api/drives/{id}/trash → len=3
	if len(parts) == 3 && parts[2] == "trash" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return true
		}
		items, err := s.service.ListTrash(r.Context(), session, driveID)
		if err != nil {
			s.fail(w, r, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"pages": items})
		return true
	}

	return false
}

func (s *HTTPServer) handleDrives(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListDrives(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drives": items})

	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		drive, err := s.service.CreateDrive(r.Context(), session, body.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, drive)

	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleDrive(w http.ResponseWriter, r *http.Request, session Session, driveID string) {
	switch r.Method {
	case http.MethodGet:
		drive, err := s.service.GetDrive(r.Context(), session, driveID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, drive)

	case http.MethodPut:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		drive, err := s.service.RenameDrive(r.Context(), session, driveID, body.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, drive)

	case http.MethodDelete:
		if err := s.service.DeleteDrive(r.Context(), session, driveID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleDriveMembers(w http.ResponseWriter, r *http.Request, session Session, driveID string) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListMembers(r.Context(), session, driveID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": items})

	case http.MethodPost:
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, err := s.service.AddMember(r.Context(), session, driveID, body.Email, body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)

	default:
		methodNotAllowed(w)
	}
}
