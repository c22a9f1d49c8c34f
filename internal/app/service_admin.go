package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"pagespace/internal/pagetree"
	"pagespace/internal/rbac"
	"pagespace/internal/search"
	"pagespace/internal/siem"
	"pagespace/internal/store"
)

// ---- favorites ----

func (s *Service) ListFavorites(ctx context.Context, session Session) ([]map[string]any, error) {
	favorites, err := s.store.ListFavorites(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(favorites))
	for _, f := range favorites {
		items = append(items, favoriteView(f))
	}
	return items, nil
}

func (s *Service) AddFavorite(ctx context.Context, session Session, pageID string) error {
	page, _, err := s.authorizePage(ctx, session, strings.TrimSpace(pageID), rbac.ActionRead)
	if err != nil {
		return err
	}
	if page.TrashedAt != nil {
		return errPageTrashed
	}
	if err := s.store.AddFavorite(ctx, session.UserID, page.ID); err != nil {
		return err
	}
	s.record(ctx, entryFor(session, "favorite.add", "page", page.ID))
	return nil
}

func (s *Service) RemoveFavorite(ctx context.Context, session Session, pageID string) error {
	pageID = strings.TrimSpace(pageID)
	if err := s.store.RemoveFavorite(ctx, session.UserID, pageID); err != nil {
		return err
	}
	s.record(ctx, entryFor(session, "favorite.remove", "page", pageID))
	return nil
}

// ---- search ----

type SearchInput struct {
	Text    string
	DriveID string
	Type    string
	Limit   int
	Offset  int
}

// Search scopes the query to one drive, or to every drive the caller can
// read when no drive is given.
func (s *Service) Search(ctx context.Context, session Session, in SearchInput) (search.Response, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return search.Response{}, validationError("q is required")
	}
	pageType := strings.ToUpper(strings.TrimSpace(in.Type))
	if pageType != "" && !pagetree.ValidType(pagetree.PageType(pageType)) {
		return search.Response{}, validationError("unknown page type " + in.Type)
	}
	if s.search == nil {
		return search.Response{}, unavailable("SEARCH_UNAVAILABLE", "Search is not configured")
	}

	var driveIDs []string
	if id := strings.TrimSpace(in.DriveID); id != "" {
		if _, _, err := s.authorizeDrive(ctx, session, id, rbac.ActionRead); err != nil {
			return search.Response{}, err
		}
		driveIDs = []string{id}
	} else {
		drives, err := s.store.ListDrivesForUser(ctx, session.TenantID, session.UserID)
		if err != nil {
			return search.Response{}, err
		}
		for _, d := range drives {
			driveIDs = append(driveIDs, d.ID)
		}
	}
	if len(driveIDs) == 0 {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}

	return s.search.Search(ctx, search.Query{
		Text:       text,
		TenantID:   session.TenantID,
		DriveIDs:   driveIDs,
		FilterType: pageType,
		Limit:      in.Limit,
		Offset:     in.Offset,
	}), nil
}

// ---- SIEM destinations and audit log ----

type DestinationInput struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint"`
	Network  string `json:"network"`
	Secret   string `json:"secret"`
	Facility *int   `json:"facility"`
	AppName  string `json:"appName"`
	Enabled  *bool  `json:"enabled"`
}

func (s *Service) ListDestinations(ctx context.Context, session Session) ([]map[string]any, error) {
	if err := s.requireTenantAdmin(ctx, session, "siem.destination.list"); err != nil {
		return nil, err
	}
	destinations, err := s.store.ListSIEMDestinations(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(destinations))
	for _, d := range destinations {
		items = append(items, destinationView(d))
	}
	return items, nil
}

func validateDestination(in DestinationInput) (siem.Destination, error) {
	dest := siem.Destination{
		Name:     strings.TrimSpace(in.Name),
		Kind:     strings.ToLower(strings.TrimSpace(in.Kind)),
		Endpoint: strings.TrimSpace(in.Endpoint),
		Network:  strings.ToLower(strings.TrimSpace(in.Network)),
		Secret:   in.Secret,
		Facility: siem.DefaultFacility,
		AppName:  strings.TrimSpace(in.AppName),
		Enabled:  true,
	}
	if in.Facility != nil {
		dest.Facility = *in.Facility
	}
	if in.Enabled != nil {
		dest.Enabled = *in.Enabled
	}
	if dest.AppName == "" {
		dest.AppName = "pagespace"
	}
	if dest.Name == "" {
		return dest, validationError("name is required")
	}
	if dest.Endpoint == "" {
		return dest, validationError("endpoint is required")
	}

	switch dest.Kind {
	case siem.KindWebhook:
		u, err := url.Parse(dest.Endpoint)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return dest, validationError("endpoint must be an http(s) URL")
		}
		if dest.Secret == "" {
			return dest, validationError("webhooks require a signing secret")
		}
		dest.Network = ""
	case siem.KindSyslog:
		if dest.Network == "" {
			dest.Network = "tcp"
		}
		switch dest.Network {
		case "tcp", "udp", "tcp+tls":
		default:
			return dest, validationError("network must be tcp, udp or tcp+tls")
		}
		if dest.Facility < 0 || dest.Facility > 23 {
			return dest, validationError("facility must be between 0 and 23")
		}
	default:
		return dest, validationError("kind must be webhook or syslog")
	}

	sender, err := siem.NewSender(dest)
	if err != nil {
		return dest, validationError(err.Error())
	}
	_ = sender.Close()
	return dest, nil
}

func (s *Service) CreateDestination(ctx context.Context, session Session, in DestinationInput) (map[string]any, error) {
	if err := s.requireTenantAdmin(ctx, session, "siem.destination.create"); err != nil {
		return nil, err
	}
	dest, err := validateDestination(in)
	if err != nil {
		return nil, err
	}

	cipher := ""
	if dest.Secret != "" {
		if s.vault == nil {
			return nil, unavailable("VAULT_UNAVAILABLE", "Secret storage is not configured")
		}
		cipher, err = s.vault.Encrypt(dest.Secret)
		if err != nil {
			return nil, err
		}
	}

	row := store.SIEMDestination{
		ID:           s.newID("siem"),
		TenantID:     session.TenantID,
		Name:         dest.Name,
		Kind:         dest.Kind,
		Endpoint:     dest.Endpoint,
		Network:      dest.Network,
		SecretCipher: cipher,
		Facility:     dest.Facility,
		AppName:      dest.AppName,
		Enabled:      dest.Enabled,
		CreatedBy:    session.UserID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertSIEMDestination(ctx, row); err != nil {
		return nil, err
	}

	e := entryFor(session, "siem.destination.create", "siem_destination", row.ID)
	e.metadata = map[string]string{"kind": row.Kind, "name": row.Name}
	s.record(ctx, e)
	return destinationView(row), nil
}

func (s *Service) DeleteDestination(ctx context.Context, session Session, id string) error {
	if err := s.requireTenantAdmin(ctx, session, "siem.destination.delete"); err != nil {
		return err
	}
	if err := s.store.DeleteSIEMDestination(ctx, session.TenantID, id); err != nil {
		if store.IsNotFound(err) {
			return errNotFound
		}
		return err
	}
	s.record(ctx, entryFor(session, "siem.destination.delete", "siem_destination", id))
	return nil
}

// TestDestination delivers one synthetic event and reports the outcome
// without failing the request on a delivery error.
func (s *Service) TestDestination(ctx context.Context, session Session, id string) (map[string]any, error) {
	if err := s.requireTenantAdmin(ctx, session, "siem.destination.test"); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return nil, unavailable("SIEM_UNAVAILABLE", "SIEM forwarding is not configured")
	}
	row, err := s.store.GetSIEMDestination(ctx, session.TenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errNotFound
		}
		return nil, err
	}
	dest, err := decodeDestination(row, s.vault)
	if err != nil {
		return nil, err
	}

	testCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	result := map[string]any{"ok": true, "destinationId": id}
	outcome := siem.OutcomeSuccess
	if err := s.audit.Test(testCtx, dest, session.UserName); err != nil {
		s.logger.Info("siem destination test failed", zap.String("destination_id", id), zap.Error(err))
		result["ok"] = false
		result["error"] = err.Error()
		outcome = siem.OutcomeFailure
	}

	e := entryFor(session, "siem.destination.test", "siem_destination", id)
	e.outcome = outcome
	s.record(ctx, e)
	return result, nil
}

type AuditQuery struct {
	Action   string
	ActorID  string
	Resource string
	Before   string
	Limit    int
}

func (s *Service) ListAudit(ctx context.Context, session Session, q AuditQuery) ([]map[string]any, error) {
	if err := s.requireTenantAdmin(ctx, session, "audit.list"); err != nil {
		return nil, err
	}
	filter := store.AuditFilter{
		Action:   strings.TrimSpace(q.Action),
		ActorID:  strings.TrimSpace(q.ActorID),
		Resource: strings.TrimSpace(q.Resource),
		Limit:    q.Limit,
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if q.Before != "" {
		before, err := time.Parse(time.RFC3339, q.Before)
		if err != nil {
			return nil, validationError("before must be an RFC 3339 timestamp")
		}
		filter.Before = &before
	}
	events, err := s.store.ListAuditEvents(ctx, session.TenantID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, e := range events {
		items = append(items, auditView(e))
	}
	return items, nil
}

// ---- MCP bridge ----

func (s *Service) ServeMCP(w http.ResponseWriter, r *http.Request, session Session) error {
	if s.bridge == nil {
		return unavailable("MCP_UNAVAILABLE", "The desktop bridge is not enabled")
	}
	s.record(r.Context(), entryFor(session, "mcp.connect", "user", session.UserID))
	return s.bridge.Accept(w, r, session.UserID)
}

func (s *Service) MCPStatus(session Session) (map[string]any, error) {
	if s.bridge == nil {
		return nil, unavailable("MCP_UNAVAILABLE", "The desktop bridge is not enabled")
	}
	status := s.bridge.Status(session.UserID)
	view := map[string]any{
		"connected": status.Connected,
		"pending":   status.Pending,
		"tools":     status.Tools,
	}
	if status.Connected {
		view["connectedAt"] = status.ConnectedAt.UTC().Format(time.RFC3339)
	}
	return view, nil
}

type MCPCallInput struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// MCPCall relays a tool call to the caller's own desktop client.
func (s *Service) MCPCall(ctx context.Context, session Session, in MCPCallInput) (map[string]any, error) {
	if s.bridge == nil {
		return nil, unavailable("MCP_UNAVAILABLE", "The desktop bridge is not enabled")
	}
	tool := strings.TrimSpace(in.Tool)
	if tool == "" {
		return nil, validationError("tool is required")
	}
	var args any = map[string]any{}
	if len(in.Args) > 0 {
		args = in.Args
	}

	result, err := s.bridge.Call(ctx, session.UserID, tool, args)
	e := entryFor(session, "mcp.call", "tool", tool)
	if err != nil {
		e.outcome = siem.OutcomeFailure
		s.record(ctx, e)
		return nil, err
	}
	s.record(ctx, e)
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return map[string]any{"tool": tool, "result": result}, nil
}
