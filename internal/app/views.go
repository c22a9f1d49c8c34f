package app

import (
	"encoding/json"
	"time"

	"pagespace/internal/history"
	"pagespace/internal/pagetree"
	"pagespace/internal/store"
)

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"tenantId":     session.TenantID,
		"tenantRole":   session.TenantRole,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timestamp(*t)
}

// rawOrEmpty returns stored JSON content as-is so it is not re-encoded as
// a string.
func rawOrEmpty(content string) json.RawMessage {
	if content == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(content)
}

func driveView(d store.Drive) map[string]any {
	view := map[string]any{
		"id":        d.ID,
		"name":      d.Name,
		"slug":      d.Slug,
		"ownerId":   d.OwnerID,
		"createdAt": timestamp(d.CreatedAt),
		"updatedAt": timestamp(d.UpdatedAt),
	}
	if d.Role != "" {
		view["role"] = d.Role
	}
	return view
}

func memberView(m store.DriveMember) map[string]any {
	return map[string]any{
		"driveId":   m.DriveID,
		"userId":    m.UserID,
		"role":      m.Role,
		"email":     m.UserEmail,
		"name":      m.UserName,
		"invitedBy": m.InvitedBy,
		"createdAt": timestamp(m.CreatedAt),
	}
}

func pageView(p store.Page, withContent bool) map[string]any {
	view := map[string]any{
		"id":        p.ID,
		"driveId":   p.DriveID,
		"parentId":  p.ParentID,
		"position":  p.Position,
		"type":      p.Type,
		"title":     p.Title,
		"createdBy": p.CreatedBy,
		"updatedBy": p.UpdatedBy,
		"createdAt": timestamp(p.CreatedAt),
		"updatedAt": timestamp(p.UpdatedAt),
		"trashedAt": optionalTimestamp(p.TrashedAt),
	}
	if withContent {
		view["content"] = rawOrEmpty(p.Content)
	}
	return view
}

func treeView(nodes []*pagetree.TreeNode) []map[string]any {
	items := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, map[string]any{
			"id":       n.ID,
			"parentId": n.ParentID,
			"position": n.Position,
			"type":     string(n.Type),
			"title":    n.Title,
			"depth":    n.Depth,
			"children": treeView(n.Children),
		})
	}
	return items
}

func movesView(moves []pagetree.Move) []map[string]any {
	items := make([]map[string]any, 0, len(moves))
	for _, m := range moves {
		items = append(items, map[string]any{
			"id":       m.ID,
			"driveId":  m.DriveID,
			"parentId": m.ParentID,
			"position": m.Position,
		})
	}
	return items
}

func revisionView(r history.Revision) map[string]any {
	return map[string]any{
		"hash":      r.Hash,
		"message":   r.Message,
		"author":    r.Author,
		"createdAt": timestamp(r.CreatedAt),
	}
}

func favoriteView(f store.Favorite) map[string]any {
	return map[string]any{
		"pageId":    f.PageID,
		"driveId":   f.DriveID,
		"title":     f.Title,
		"createdAt": timestamp(f.CreatedAt),
	}
}

func auditView(e store.AuditEvent) map[string]any {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return map[string]any{
		"id":         e.ID,
		"actorId":    e.ActorID,
		"actor":      e.ActorName,
		"action":     e.Action,
		"resource":   e.Resource,
		"resourceId": e.ResourceID,
		"outcome":    e.Outcome,
		"sourceIp":   e.SourceIP,
		"metadata":   metadata,
		"createdAt":  timestamp(e.CreatedAt),
	}
}

// destinationView never exposes the secret.
func destinationView(d store.SIEMDestination) map[string]any {
	return map[string]any{
		"id":        d.ID,
		"name":      d.Name,
		"kind":      d.Kind,
		"endpoint":  d.Endpoint,
		"network":   d.Network,
		"facility":  d.Facility,
		"appName":   d.AppName,
		"enabled":   d.Enabled,
		"hasSecret": d.SecretCipher != "",
		"createdBy": d.CreatedBy,
		"createdAt": timestamp(d.CreatedAt),
	}
}

func fileView(f store.FileObject) map[string]any {
	return map[string]any{
		"pageId":      f.PageID,
		"filename":    f.Filename,
		"contentType": f.ContentType,
		"size":        f.Size,
		"etag":        f.ETag,
		"uploadedBy":  f.UploadedBy,
		"createdAt":   timestamp(f.CreatedAt),
	}
}
