package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pagespace/internal/blob"
	"pagespace/internal/export"
	"pagespace/internal/history"
	"pagespace/internal/pagetree"
	"pagespace/internal/rbac"
	"pagespace/internal/search"
	"pagespace/internal/store"
)

const (
	maxBulkPages   = 500
	maxTitleLength = 500
	fileURLTTL     = 15 * time.Minute
)

var errPageTrashed = domainError(http.StatusConflict, "PAGE_TRASHED", "Page is in the trash", nil)
var errNotInTrash = domainError(http.StatusConflict, "NOT_IN_TRASH", "Page is not in the trash", nil)

type CreatePageInput struct {
	DriveID  string          `json:"driveId"`
	ParentID *string         `json:"parentId"`
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Content  json.RawMessage `json:"content"`
}

type UpdatePageInput struct {
	Title   *string         `json:"title"`
	Content json.RawMessage `json:"content"`
}

type BulkMoveInput struct {
	PageIDs  []string `json:"pageIds"`
	DriveID  string   `json:"driveId"`
	ParentID *string  `json:"parentId"`
	AfterID  *string  `json:"afterId"`
}

type BulkCopyInput struct {
	PageIDs         []string `json:"pageIds"`
	DriveID         string   `json:"driveId"`
	ParentID        *string  `json:"parentId"`
	IncludeChildren bool     `json:"includeChildren"`
}

// holdsContent reports whether pages of type t carry a ProseMirror document.
func holdsContent(t string) bool {
	switch pagetree.PageType(t) {
	case pagetree.TypeDocument, pagetree.TypeChannel, pagetree.TypeSheet, pagetree.TypeAIChat:
		return true
	}
	return false
}

// normalizeContent accepts a JSON object and returns it compacted. Empty
// input and null mean "no content".
func normalizeContent(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return "", validationError("content must be a JSON object")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", validationError("content must be a JSON object")
	}
	return buf.String(), nil
}

func optionalID(id *string) *string {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	v := strings.TrimSpace(*id)
	return &v
}

func toNodes(pages []store.Page) []pagetree.Node {
	nodes := make([]pagetree.Node, 0, len(pages))
	for _, p := range pages {
		nodes = append(nodes, pagetree.Node{
			ID:       p.ID,
			DriveID:  p.DriveID,
			ParentID: p.ParentID,
			Position: p.Position,
			Type:     pagetree.PageType(p.Type),
			Title:    p.Title,
		})
	}
	return nodes
}

// loadIndex indexes the live pages of every given drive.
func (s *Service) loadIndex(ctx context.Context, driveIDs ...string) (*pagetree.Index, error) {
	var nodes []pagetree.Node
	seen := make(map[string]bool, len(driveIDs))
	for _, id := range driveIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		pages, err := s.store.ListDrivePages(ctx, id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, toNodes(pages)...)
	}
	return pagetree.NewIndex(nodes), nil
}

// ---- search index and history side effects ----

func (s *Service) indexPages(tenantID string, pages ...store.Page) {
	if s.search == nil || len(pages) == 0 {
		return
	}
	records := make([]search.PageRecord, 0, len(pages))
	for _, p := range pages {
		parent := ""
		if p.ParentID != nil {
			parent = *p.ParentID
		}
		records = append(records, search.PageRecord{
			ID:       p.ID,
			TenantID: tenantID,
			DriveID:  p.DriveID,
			ParentID: parent,
			Type:     p.Type,
			Title:    p.Title,
			Text:     search.PlainText(p.Content),
		})
	}
	s.search.IndexPages(records...)
}

func (s *Service) reindex(ctx context.Context, tenantID string, ids []string) {
	if s.search == nil || len(ids) == 0 {
		return
	}
	pages, err := s.store.ListPagesByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("load pages for indexing", zap.Int("count", len(ids)), zap.Error(err))
		return
	}
	s.indexPages(tenantID, pages...)
}

func (s *Service) unindex(ids ...string) {
	if s.search != nil && len(ids) > 0 {
		s.search.DeletePages(ids...)
	}
}

// commitRevision snapshots a content page into its history. Failures are
// logged; the database row stays the source of truth.
func (s *Service) commitRevision(page store.Page, author, message string) *history.Revision {
	if s.history == nil || !holdsContent(page.Type) {
		return nil
	}
	content := history.Content{Title: page.Title, Type: page.Type}
	if page.Content != "" {
		content.Doc = json.RawMessage(page.Content)
	}
	rev, changed, err := s.history.Commit(page.ID, content, author, message)
	if err != nil {
		s.logger.Warn("commit page revision", zap.String("page_id", page.ID), zap.Error(err))
		return nil
	}
	if !changed {
		return nil
	}
	return &rev
}

// ---- pages ----

func (s *Service) CreatePage(ctx context.Context, session Session, in CreatePageInput) (map[string]any, error) {
	drive, _, err := s.authorizeDrive(ctx, session, strings.TrimSpace(in.DriveID), rbac.ActionWrite)
	if err != nil {
		return nil, err
	}

	pageType := strings.ToUpper(strings.TrimSpace(in.Type))
	if pageType == "" {
		pageType = string(pagetree.TypeDocument)
	}
	if !pagetree.ValidType(pagetree.PageType(pageType)) {
		return nil, validationError("unknown page type " + strconv.Quote(in.Type))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled"
	}
	if len(title) > maxTitleLength {
		return nil, validationError("title is too long")
	}
	content, err := normalizeContent(in.Content)
	if err != nil {
		return nil, err
	}
	if content != "" && !holdsContent(pageType) {
		return nil, validationError(pageType + " pages have no content")
	}

	ix, err := s.loadIndex(ctx, drive.ID)
	if err != nil {
		return nil, err
	}
	parentID := optionalID(in.ParentID)
	if parentID != nil {
		parent, ok := ix.Get(*parentID)
		if !ok {
			other, err := s.store.GetPage(ctx, *parentID)
			if err == nil && other.TrashedAt == nil && other.DriveID != drive.ID {
				return nil, pagetree.ErrCrossDrive
			}
			return nil, pagetree.ErrNotFound
		}
		if parent.Type == pagetree.TypeFile {
			return nil, pagetree.ErrInvalidParent
		}
	}

	now := time.Now().UTC()
	page := store.Page{
		ID:        s.newID("pg"),
		DriveID:   drive.ID,
		ParentID:  parentID,
		Position:  pagetree.AppendPosition(ix, drive.ID, parentID),
		Type:      pageType,
		Title:     title,
		Content:   content,
		CreatedBy: session.UserID,
		UpdatedBy: session.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertPage(ctx, page); err != nil {
		return nil, err
	}
	if content != "" {
		s.commitRevision(page, session.UserName, "Create "+title)
	}
	s.indexPages(session.TenantID, page)

	e := entryFor(session, "page.create", "page", page.ID)
	e.metadata = map[string]string{"driveId": drive.ID, "type": pageType}
	s.record(ctx, e)
	return pageView(page, true), nil
}

func (s *Service) GetPage(ctx context.Context, session Session, pageID string) (map[string]any, error) {
	page, drive, err := s.authorizePage(ctx, session, pageID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	view := pageView(page, true)
	view["role"] = drive.Role
	return view, nil
}

func (s *Service) UpdatePage(ctx context.Context, session Session, pageID string, in UpdatePageInput) (map[string]any, error) {
	page, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if page.TrashedAt != nil {
		return nil, errPageTrashed
	}

	title := page.Title
	if in.Title != nil {
		title = strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, validationError("title cannot be empty")
		}
		if len(title) > maxTitleLength {
			return nil, validationError("title is too long")
		}
	}
	var content *string
	if len(bytes.TrimSpace(in.Content)) > 0 {
		if !holdsContent(page.Type) {
			return nil, validationError(page.Type + " pages have no content")
		}
		c, err := normalizeContent(in.Content)
		if err != nil {
			return nil, err
		}
		if c == "" {
			c = "{}"
		}
		content = &c
	}

	updated, err := s.store.UpdatePage(ctx, pageID, title, content, session.UserID)
	if err != nil {
		return nil, err
	}
	rev := s.commitRevision(updated, session.UserName, "Update "+updated.Title)
	s.indexPages(session.TenantID, updated)

	e := entryFor(session, "page.update", "page", pageID)
	if rev != nil {
		e.metadata = map[string]string{"revision": rev.Hash}
	}
	s.record(ctx, e)

	view := pageView(updated, true)
	if rev != nil {
		view["revision"] = revisionView(*rev)
	}
	return view, nil
}

func (s *Service) TrashPage(ctx context.Context, session Session, pageID string) (map[string]any, error) {
	page, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if page.TrashedAt != nil {
		return nil, errPageTrashed
	}
	ids, err := s.store.TrashPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	s.unindex(ids...)

	e := entryFor(session, "page.trash", "page", pageID)
	e.metadata = map[string]string{"count": strconv.Itoa(len(ids))}
	s.record(ctx, e)
	return map[string]any{"trashed": ids}, nil
}

func (s *Service) RestorePage(ctx context.Context, session Session, pageID string) (map[string]any, error) {
	page, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if page.TrashedAt == nil {
		return nil, errNotInTrash
	}
	ids, err := s.store.RestorePage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	s.reindex(ctx, session.TenantID, ids)

	e := entryFor(session, "page.restore", "page", pageID)
	e.metadata = map[string]string{"count": strconv.Itoa(len(ids))}
	s.record(ctx, e)
	return map[string]any{"restored": ids}, nil
}

// PurgePage permanently deletes a trashed page, its subtree, their history
// and any file objects no other page references.
func (s *Service) PurgePage(ctx context.Context, session Session, pageID string) (map[string]any, error) {
	page, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionAdmin)
	if err != nil {
		return nil, err
	}
	if page.TrashedAt == nil {
		return nil, errNotInTrash
	}
	ids, orphanKeys, err := s.store.PurgePage(ctx, pageID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errNotInTrash
		}
		return nil, err
	}

	if s.blobs != nil && len(orphanKeys) > 0 {
		if err := s.blobs.Delete(ctx, orphanKeys...); err != nil {
			s.logger.Warn("delete purged blobs", zap.Strings("keys", orphanKeys), zap.Error(err))
		}
	}
	if s.history != nil {
		for _, id := range ids {
			if err := s.history.Remove(id); err != nil {
				s.logger.Warn("remove page history", zap.String("page_id", id), zap.Error(err))
			}
		}
	}
	s.unindex(ids...)

	e := entryFor(session, "page.purge", "page", pageID)
	e.metadata = map[string]string{"count": strconv.Itoa(len(ids))}
	s.record(ctx, e)
	return map[string]any{"purged": ids}, nil
}

func (s *Service) Tree(ctx context.Context, session Session, driveID string) (map[string]any, error) {
	drive, _, err := s.authorizeDrive(ctx, session, driveID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	pages, err := s.store.ListDrivePages(ctx, driveID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"drive": driveView(drive),
		"tree":  treeView(pagetree.Build(toNodes(pages))),
	}, nil
}

func (s *Service) ListTrash(ctx context.Context, session Session, driveID string) ([]map[string]any, error) {
	if _, _, err := s.authorizeDrive(ctx, session, driveID, rbac.ActionRead); err != nil {
		return nil, err
	}
	pages, err := s.store.ListTrash(ctx, driveID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		items = append(items, pageView(p, false))
	}
	return items, nil
}

// authorizeSelection checks write access on the target drive and on the
// drive of every selected page, returning the drives involved.
func (s *Service) authorizeSelection(ctx context.Context, session Session, pageIDs []string, targetDriveID string) ([]string, error) {
	if len(pageIDs) == 0 {
		return nil, pagetree.ErrEmptySelection
	}
	if len(pageIDs) > maxBulkPages {
		return nil, validationError("at most " + strconv.Itoa(maxBulkPages) + " pages per request")
	}
	if _, _, err := s.authorizeDrive(ctx, session, strings.TrimSpace(targetDriveID), rbac.ActionWrite); err != nil {
		return nil, err
	}
	drives := []string{targetDriveID}
	checked := map[string]bool{targetDriveID: true}
	for _, id := range pageIDs {
		page, err := s.store.GetPage(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, pagetree.ErrNotFound
			}
			return nil, err
		}
		if page.TrashedAt != nil {
			return nil, pagetree.ErrNotFound
		}
		if checked[page.DriveID] {
			continue
		}
		if _, _, err := s.authorizeDrive(ctx, session, page.DriveID, rbac.ActionWrite); err != nil {
			return nil, err
		}
		checked[page.DriveID] = true
		drives = append(drives, page.DriveID)
	}
	return drives, nil
}

// BulkMove plans the whole move against the current trees, then applies
// it in one transaction.
func (s *Service) BulkMove(ctx context.Context, session Session, in BulkMoveInput) (map[string]any, error) {
	drives, err := s.authorizeSelection(ctx, session, in.PageIDs, in.DriveID)
	if err != nil {
		return nil, err
	}
	ix, err := s.loadIndex(ctx, drives...)
	if err != nil {
		return nil, err
	}
	moves, err := pagetree.PlanBulkMove(ix, pagetree.MoveRequest{
		PageIDs:  in.PageIDs,
		DriveID:  in.DriveID,
		ParentID: optionalID(in.ParentID),
		AfterID:  optionalID(in.AfterID),
	})
	if err != nil {
		return nil, err
	}
	if err := s.applyMoves(ctx, session, moves); err != nil {
		return nil, err
	}

	e := entryFor(session, "page.bulk_move", "drive", in.DriveID)
	e.metadata = map[string]string{"count": strconv.Itoa(len(moves)), "pages": strings.Join(in.PageIDs, ",")}
	s.record(ctx, e)
	return map[string]any{"moves": movesView(moves)}, nil
}

func (s *Service) applyMoves(ctx context.Context, session Session, moves []pagetree.Move) error {
	rows := make([]store.PageMove, 0, len(moves))
	ids := make([]string, 0, len(moves))
	for _, m := range moves {
		rows = append(rows, store.PageMove{ID: m.ID, DriveID: m.DriveID, ParentID: m.ParentID, Position: m.Position})
		ids = append(ids, m.ID)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.store.ApplyPageMoves(ctx, rows, session.UserID); err != nil {
		return err
	}
	s.reindex(ctx, session.TenantID, ids)
	return nil
}

// BulkCopy inserts fresh copies of the selection. File copies get their
// own object so later uploads to either page stay independent.
func (s *Service) BulkCopy(ctx context.Context, session Session, in BulkCopyInput) (map[string]any, error) {
	drives, err := s.authorizeSelection(ctx, session, in.PageIDs, in.DriveID)
	if err != nil {
		return nil, err
	}
	ix, err := s.loadIndex(ctx, drives...)
	if err != nil {
		return nil, err
	}
	copies, err := pagetree.PlanBulkCopy(ix, pagetree.CopyRequest{
		PageIDs:         in.PageIDs,
		DriveID:         in.DriveID,
		ParentID:        optionalID(in.ParentID),
		IncludeChildren: in.IncludeChildren,
	}, func() string { return s.newID("pg") })
	if err != nil {
		return nil, err
	}

	rows := make([]store.PageCopy, 0, len(copies))
	newIDs := make([]string, 0, len(copies))
	sources := make(map[string]string, len(copies))
	for _, c := range copies {
		rows = append(rows, store.PageCopy{
			SourceID: c.SourceID,
			Page: store.Page{
				ID:       c.Node.ID,
				DriveID:  c.Node.DriveID,
				ParentID: c.Node.ParentID,
				Position: c.Node.Position,
				Type:     string(c.Node.Type),
				Title:    c.Node.Title,
			},
		})
		newIDs = append(newIDs, c.Node.ID)
		sources[c.Node.ID] = c.SourceID
	}
	if err := s.store.InsertPages(ctx, rows, session.UserID); err != nil {
		return nil, err
	}

	created, err := s.store.ListPagesByIDs(ctx, newIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range created {
		if p.Type == string(pagetree.TypeFile) {
			s.detachCopiedFile(ctx, session, p)
		}
		s.commitRevision(p, session.UserName, "Copy of "+sources[p.ID])
	}
	s.indexPages(session.TenantID, created...)

	e := entryFor(session, "page.bulk_copy", "drive", in.DriveID)
	e.metadata = map[string]string{"count": strconv.Itoa(len(copies)), "pages": strings.Join(in.PageIDs, ",")}
	s.record(ctx, e)

	items := make([]map[string]any, 0, len(created))
	for _, p := range created {
		view := pageView(p, false)
		view["sourceId"] = sources[p.ID]
		items = append(items, view)
	}
	return map[string]any{"copies": items}, nil
}

// detachCopiedFile gives a copied FILE page its own object under its own
// key prefix. On failure the copy keeps pointing at the source object.
func (s *Service) detachCopiedFile(ctx context.Context, session Session, page store.Page) {
	if s.blobs == nil {
		return
	}
	f, err := s.store.GetFileObject(ctx, page.ID)
	if err != nil {
		if !store.IsNotFound(err) {
			s.logger.Warn("load copied file object", zap.String("page_id", page.ID), zap.Error(err))
		}
		return
	}
	key := blob.Key(session.TenantID, page.DriveID, page.ID, f.Filename)
	if err := s.blobs.Copy(ctx, f.Key, key); err != nil {
		s.logger.Warn("copy file object", zap.String("page_id", page.ID), zap.Error(err))
		return
	}
	f.Key = key
	if err := s.store.UpsertFileObject(ctx, f); err != nil {
		s.logger.Warn("save copied file object", zap.String("page_id", page.ID), zap.Error(err))
	}
}

func (s *Service) ReorderPage(ctx context.Context, session Session, pageID string, afterID *string) (map[string]any, error) {
	page, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if page.TrashedAt != nil {
		return nil, errPageTrashed
	}
	ix, err := s.loadIndex(ctx, page.DriveID)
	if err != nil {
		return nil, err
	}
	moves, err := pagetree.Reorder(ix, pageID, optionalID(afterID))
	if err != nil {
		return nil, err
	}
	if err := s.applyMoves(ctx, session, moves); err != nil {
		return nil, err
	}
	s.record(ctx, entryFor(session, "page.reorder", "page", pageID))
	return map[string]any{"moves": movesView(moves)}, nil
}

// ---- history ----

func (s *Service) PageHistory(ctx context.Context, session Session, pageID string, limit int) ([]map[string]any, error) {
	if _, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, unavailable("HISTORY_UNAVAILABLE", "Page history is not configured")
	}
	revisions, err := s.history.History(pageID, limit)
	if err != nil {
		if errors.Is(err, history.ErrNoHistory) {
			return []map[string]any{}, nil
		}
		return nil, err
	}
	items := make([]map[string]any, 0, len(revisions))
	for _, r := range revisions {
		items = append(items, revisionView(r))
	}
	return items, nil
}

func (s *Service) RevisionContent(ctx context.Context, session Session, pageID, hash string) (map[string]any, error) {
	if _, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, unavailable("HISTORY_UNAVAILABLE", "Page history is not configured")
	}
	content, err := s.history.ContentAt(pageID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hash": hash, "title": content.Title, "type": content.Type, "content": rawOrEmpty(string(content.Doc))}, nil
}

// RestoreRevision commits the old content as a new revision and writes it
// back to the page.
func (s *Service) RestoreRevision(ctx context.Context, session Session, pageID, hash string) (map[string]any, error) {
	page, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if page.TrashedAt != nil {
		return nil, errPageTrashed
	}
	if s.history == nil {
		return nil, unavailable("HISTORY_UNAVAILABLE", "Page history is not configured")
	}
	content, rev, err := s.history.Restore(pageID, hash, session.UserName)
	if err != nil {
		return nil, err
	}
	title := content.Title
	if title == "" {
		title = page.Title
	}
	doc := string(content.Doc)
	if doc == "" {
		doc = "{}"
	}
	updated, err := s.store.UpdatePage(ctx, pageID, title, &doc, session.UserID)
	if err != nil {
		return nil, err
	}
	s.indexPages(session.TenantID, updated)

	e := entryFor(session, "page.revision.restore", "page", pageID)
	e.metadata = map[string]string{"from": hash, "revision": rev.Hash}
	s.record(ctx, e)

	view := pageView(updated, true)
	view["revision"] = revisionView(rev)
	return view, nil
}

// ---- export and files ----

func (s *Service) ExportPage(ctx context.Context, session Session, pageID, format string) (*export.Result, error) {
	page, drive, err := s.authorizePage(ctx, session, pageID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	f, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, unavailable("EXPORT_UNAVAILABLE", "Export is not configured")
	}
	author := ""
	if u, err := s.store.GetUserByID(ctx, page.UpdatedBy); err == nil {
		author = u.DisplayName
	}
	result, err := s.exporter.Export(ctx, export.Document{
		ID:        page.ID,
		Title:     page.Title,
		Type:      page.Type,
		Content:   page.Content,
		DriveName: drive.Name,
		Author:    author,
		UpdatedAt: page.UpdatedAt,
	}, f)
	if err != nil {
		return nil, err
	}
	e := entryFor(session, "page.export", "page", pageID)
	e.metadata = map[string]string{"format": string(f)}
	s.record(ctx, e)
	return result, nil
}

func (s *Service) UploadFile(ctx context.Context, session Session, pageID, filename, contentType string, size int64, body io.Reader) (map[string]any, error) {
	page, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if page.TrashedAt != nil {
		return nil, errPageTrashed
	}
	if page.Type != string(pagetree.TypeFile) {
		return nil, validationError("only FILE pages accept uploads")
	}
	if s.blobs == nil {
		return nil, unavailable("STORAGE_UNAVAILABLE", "File storage is not configured")
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = page.Title
	}

	key := blob.Key(session.TenantID, page.DriveID, page.ID, filename)
	obj, err := s.blobs.Put(ctx, key, body, size, contentType)
	if err != nil {
		return nil, err
	}
	file := store.FileObject{
		PageID:      page.ID,
		Key:         obj.Key,
		Filename:    filename,
		ContentType: contentType,
		Size:        obj.Size,
		ETag:        obj.ETag,
		UploadedBy:  session.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.UpsertFileObject(ctx, file); err != nil {
		return nil, err
	}

	e := entryFor(session, "page.file.upload", "page", pageID)
	e.metadata = map[string]string{"filename": filename, "size": strconv.FormatInt(obj.Size, 10)}
	s.record(ctx, e)
	return fileView(file), nil
}

// FileURL returns a short-lived download link for a FILE page.
func (s *Service) FileURL(ctx context.Context, session Session, pageID string) (string, error) {
	if _, _, err := s.authorizePage(ctx, session, pageID, rbac.ActionRead); err != nil {
		return "", err
	}
	if s.blobs == nil {
		return "", unavailable("STORAGE_UNAVAILABLE", "File storage is not configured")
	}
	file, err := s.store.GetFileObject(ctx, pageID)
	if err != nil {
		if store.IsNotFound(err) {
			return "", domainError(http.StatusNotFound, "NO_FILE", "No file has been uploaded for this page", nil)
		}
		return "", err
	}
	return s.blobs.PresignGet(ctx, file.Key, fileURLTTL)
}
