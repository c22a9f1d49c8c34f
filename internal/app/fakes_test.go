package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pagespace/internal/blob"
	"pagespace/internal/config"
	"pagespace/internal/history"
	"pagespace/internal/mcpbridge"
	"pagespace/internal/search"
	"pagespace/internal/siem"
	"pagespace/internal/store"
)

type refreshEntry struct {
	user      store.User
	expiresAt time.Time
}

// fakeStore is an in-memory dataStore and sessionStore.
type fakeStore struct {
	mu sync.Mutex

	pingErr error

	tenants   map[string]store.Tenant
	users     map[string]store.User
	drives    map[string]store.Drive
	members   map[string]map[string]store.DriveMember
	pages     map[string]store.Page
	favorites map[string]map[string]time.Time
	audit     []store.AuditEvent
	dests     map[string]store.SIEMDestination
	files     map[string]store.FileObject
	refresh   map[string]refreshEntry
	revoked   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:   map[string]store.Tenant{},
		users:     map[string]store.User{},
		drives:    map[string]store.Drive{},
		members:   map[string]map[string]store.DriveMember{},
		pages:     map[string]store.Page{},
		favorites: map[string]map[string]time.Time{},
		dests:     map[string]store.SIEMDestination{},
		files:     map[string]store.FileObject{},
		refresh:   map[string]refreshEntry{},
		revoked:   map[string]bool{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

// ---- users and sessions ----

func (f *fakeStore) CreateTenantWithOwner(_ context.Context, tenant store.Tenant, owner store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[tenant.ID] = tenant
	owner.CreatedAt = time.Now()
	f.users[owner.ID] = owner
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if token != "" && u.VerificationToken == token {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash string, user store.User, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = refreshEntry{user: user, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.refresh[hash]
	if !ok || time.Now().After(e.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	return e.user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// ---- drives ----

func (f *fakeStore) CreateDrive(_ context.Context, d store.Drive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	d.Role = ""
	f.drives[d.ID] = d
	f.members[d.ID] = map[string]store.DriveMember{
		d.OwnerID: {DriveID: d.ID, UserID: d.OwnerID, Role: "owner", CreatedAt: now},
	}
	return nil
}

func (f *fakeStore) GetDrive(_ context.Context, id string) (store.Drive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drives[id]
	if !ok || d.TrashedAt != nil {
		return store.Drive{}, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeStore) ListDrivesForUser(_ context.Context, tenantID, userID string) ([]store.Drive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Drive{}
	for _, d := range f.drives {
		m, ok := f.members[d.ID][userID]
		if !ok || d.TenantID != tenantID || d.TrashedAt != nil {
			continue
		}
		d.Role = m.Role
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) UpdateDrive(_ context.Context, id, name, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drives[id]
	if !ok || d.TrashedAt != nil {
		return sql.ErrNoRows
	}
	d.Name, d.Slug, d.UpdatedAt = name, slug, time.Now()
	f.drives[id] = d
	return nil
}

func (f *fakeStore) TrashDrive(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drives[id]
	if !ok || d.TrashedAt != nil {
		return sql.ErrNoRows
	}
	now := time.Now()
	d.TrashedAt = &now
	f.drives[id] = d
	return nil
}

func (f *fakeStore) GetDriveRole(_ context.Context, driveID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[driveID][userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return m.Role, nil
}

func (f *fakeStore) ListDriveMembers(_ context.Context, driveID string) ([]store.DriveMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.DriveMember{}
	for _, m := range f.members[driveID] {
		u := f.users[m.UserID]
		m.UserEmail, m.UserName = u.Email, u.DisplayName
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) UpsertDriveMember(_ context.Context, m store.DriveMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[m.DriveID] == nil {
		f.members[m.DriveID] = map[string]store.DriveMember{}
	}
	m.CreatedAt = time.Now()
	f.members[m.DriveID][m.UserID] = m
	return nil
}

func (f *fakeStore) RemoveDriveMember(_ context.Context, driveID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[driveID][userID]
	if !ok || m.Role == "owner" {
		return sql.ErrNoRows
	}
	delete(f.members[driveID], userID)
	return nil
}

// ---- pages ----

func (f *fakeStore) GetPage(_ context.Context, id string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return store.Page{}, sql.ErrNoRows
	}
	return p, nil
}

func sortPages(pages []store.Page) {
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Position != pages[j].Position {
			return pages[i].Position < pages[j].Position
		}
		return pages[i].ID < pages[j].ID
	})
}

func (f *fakeStore) ListPagesByIDs(_ context.Context, ids []string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Page{}
	for _, id := range ids {
		if p, ok := f.pages[id]; ok && p.TrashedAt == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListDrivePages(_ context.Context, driveID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Page{}
	for _, p := range f.pages {
		if p.DriveID == driveID && p.TrashedAt == nil {
			p.Content = ""
			out = append(out, p)
		}
	}
	sortPages(out)
	return out, nil
}

func (f *fakeStore) ListTrash(_ context.Context, driveID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Page{}
	for _, p := range f.pages {
		if p.DriveID == driveID && p.TrashedAt != nil {
			out = append(out, p)
		}
	}
	sortPages(out)
	return out, nil
}

func (f *fakeStore) InsertPage(_ context.Context, p store.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.pages[p.ID]; exists {
		return errors.New("duplicate page id")
	}
	f.pages[p.ID] = p
	return nil
}

func (f *fakeStore) InsertPages(_ context.Context, copies []store.PageCopy, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, c := range copies {
		src, ok := f.pages[c.SourceID]
		if !ok {
			return sql.ErrNoRows
		}
		p := c.Page
		p.Type = src.Type
		p.Content = src.Content
		p.CreatedBy, p.UpdatedBy = actorID, actorID
		p.CreatedAt, p.UpdatedAt = now, now
		f.pages[p.ID] = p
		if file, ok := f.files[c.SourceID]; ok {
			file.PageID = p.ID
			f.files[p.ID] = file
		}
	}
	return nil
}

func (f *fakeStore) UpdatePage(_ context.Context, id, title string, content *string, updatedBy string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok || p.TrashedAt != nil {
		return store.Page{}, sql.ErrNoRows
	}
	p.Title = title
	if content != nil {
		p.Content = *content
	}
	p.UpdatedBy, p.UpdatedAt = updatedBy, time.Now()
	f.pages[id] = p
	return p, nil
}

func (f *fakeStore) ApplyPageMoves(_ context.Context, moves []store.PageMove, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range moves {
		p, ok := f.pages[m.ID]
		if !ok || p.TrashedAt != nil {
			return sql.ErrNoRows
		}
		p.DriveID, p.ParentID, p.Position = m.DriveID, m.ParentID, m.Position
		p.UpdatedBy = updatedBy
		f.pages[m.ID] = p
	}
	return nil
}

// subtree returns id and its descendants matching keep, depth first.
func (f *fakeStore) subtree(id string, keep func(store.Page) bool) []string {
	out := []string{id}
	for _, p := range f.pages {
		if p.ParentID != nil && *p.ParentID == id && keep(p) {
			out = append(out, f.subtree(p.ID, keep)...)
		}
	}
	return out
}

func (f *fakeStore) TrashPage(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok || p.TrashedAt != nil {
		return []string{}, nil
	}
	now := time.Now().UTC()
	ids := f.subtree(id, func(p store.Page) bool { return p.TrashedAt == nil })
	for _, pid := range ids {
		page := f.pages[pid]
		page.TrashedAt = &now
		f.pages[pid] = page
	}
	return ids, nil
}

func (f *fakeStore) RestorePage(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok || p.TrashedAt == nil {
		return nil, sql.ErrNoRows
	}
	if p.ParentID != nil {
		parent, ok := f.pages[*p.ParentID]
		if !ok || parent.TrashedAt != nil {
			max := 0.0
			for _, other := range f.pages {
				if other.DriveID == p.DriveID && other.ParentID == nil && other.TrashedAt == nil && other.Position > max {
					max = other.Position
				}
			}
			p.ParentID = nil
			p.Position = max + 1024
			f.pages[id] = p
		}
	}
	stamp := *p.TrashedAt
	ids := f.subtree(id, func(c store.Page) bool { return c.TrashedAt != nil && c.TrashedAt.Equal(stamp) })
	for _, pid := range ids {
		page := f.pages[pid]
		page.TrashedAt = nil
		f.pages[pid] = page
	}
	return ids, nil
}

func (f *fakeStore) PurgePage(_ context.Context, id string) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok || p.TrashedAt == nil {
		return nil, nil, sql.ErrNoRows
	}
	ids := f.subtree(id, func(store.Page) bool { return true })
	purged := map[string]bool{}
	for _, pid := range ids {
		purged[pid] = true
	}
	var keys []string
	for _, pid := range ids {
		file, ok := f.files[pid]
		if !ok {
			continue
		}
		shared := false
		for other, o := range f.files {
			if !purged[other] && o.Key == file.Key {
				shared = true
			}
		}
		if !shared {
			keys = append(keys, file.Key)
		}
	}
	for _, pid := range ids {
		delete(f.pages, pid)
		delete(f.files, pid)
		for _, favs := range f.favorites {
			delete(favs, pid)
		}
	}
	return ids, keys, nil
}

// ---- favorites ----

func (f *fakeStore) ListFavorites(_ context.Context, userID string) ([]store.Favorite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Favorite{}
	for pageID, at := range f.favorites[userID] {
		p, ok := f.pages[pageID]
		if !ok || p.TrashedAt != nil {
			continue
		}
		out = append(out, store.Favorite{UserID: userID, PageID: pageID, Title: p.Title, DriveID: p.DriveID, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

func (f *fakeStore) AddFavorite(_ context.Context, userID, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.favorites[userID] == nil {
		f.favorites[userID] = map[string]time.Time{}
	}
	f.favorites[userID][pageID] = time.Now()
	return nil
}

func (f *fakeStore) RemoveFavorite(_ context.Context, userID, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.favorites[userID], pageID)
	return nil
}

// ---- audit ----

func (f *fakeStore) InsertAuditEvent(_ context.Context, e store.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, e)
	return nil
}

func (f *fakeStore) ListAuditEvents(_ context.Context, tenantID string, filter store.AuditFilter) ([]store.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.AuditEvent{}
	for i := len(f.audit) - 1; i >= 0; i-- {
		e := f.audit[i]
		if e.TenantID != tenantID ||
			(filter.Action != "" && e.Action != filter.Action) ||
			(filter.ActorID != "" && e.ActorID != filter.ActorID) ||
			(filter.Resource != "" && e.Resource != filter.Resource) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) auditActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.audit))
	for _, e := range f.audit {
		out = append(out, e.Action+":"+e.Outcome)
	}
	return out
}

// ---- SIEM destinations and files ----

func (f *fakeStore) ListSIEMDestinations(_ context.Context, tenantID string) ([]store.SIEMDestination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.SIEMDestination{}
	for _, d := range f.dests {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListEnabledSIEMDestinations(_ context.Context) ([]store.SIEMDestination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.SIEMDestination{}
	for _, d := range f.dests {
		if d.Enabled {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetSIEMDestination(_ context.Context, tenantID, id string) (store.SIEMDestination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dests[id]
	if !ok || d.TenantID != tenantID {
		return store.SIEMDestination{}, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeStore) InsertSIEMDestination(_ context.Context, d store.SIEMDestination) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dests[d.ID] = d
	return nil
}

func (f *fakeStore) DeleteSIEMDestination(_ context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dests[id]
	if !ok || d.TenantID != tenantID {
		return sql.ErrNoRows
	}
	delete(f.dests, id)
	return nil
}

func (f *fakeStore) UpsertFileObject(_ context.Context, file store.FileObject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[file.PageID] = file
	return nil
}

func (f *fakeStore) GetFileObject(_ context.Context, pageID string) (store.FileObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[pageID]
	if !ok {
		return store.FileObject{}, sql.ErrNoRows
	}
	return file, nil
}

// ---- collaborators ----

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.PageRecord
	deleted []string
	last    search.Query
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{indexed: map[string]search.PageRecord{}}
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = q
	allowed := map[string]bool{}
	for _, id := range q.DriveIDs {
		allowed[id] = true
	}
	results := []search.Result{}
	for _, r := range f.indexed {
		if allowed[r.DriveID] && strings.Contains(strings.ToLower(r.Title+" "+r.Text), strings.ToLower(q.Text)) {
			results = append(results, search.Result{ID: r.ID, DriveID: r.DriveID, Type: r.Type, Title: r.Title})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return search.Response{Results: results, Total: len(results), Query: q.Text, Backend: "fake"}
}

func (f *fakeSearch) IndexPages(pages ...search.PageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pages {
		f.indexed[p.ID] = p
	}
}

func (f *fakeSearch) DeletePages(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.indexed, id)
		f.deleted = append(f.deleted, id)
	}
}

func (f *fakeSearch) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indexed[id]
	return ok
}

type fakeSink struct {
	mu        sync.Mutex
	events    []siem.Event
	tested    []siem.Destination
	testError error
}

func (f *fakeSink) Publish(evt siem.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeSink) Test(_ context.Context, dest siem.Destination, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tested = append(f.tested, dest)
	return f.testError
}

func (f *fakeSink) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Action)
	}
	return out
}

type fakeBridge struct {
	status mcpbridge.Status
	result json.RawMessage
	err    error
	calls  []string
}

func (f *fakeBridge) Accept(http.ResponseWriter, *http.Request, string) error { return nil }

func (f *fakeBridge) Call(_ context.Context, userID, tool string, _ any) (json.RawMessage, error) {
	f.calls = append(f.calls, userID+":"+tool)
	return f.result, f.err
}

func (f *fakeBridge) Status(string) mcpbridge.Status { return f.status }

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (blob.Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return blob.Object{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return blob.Object{Key: key, Size: int64(len(data)), ETag: "etag"}, nil
}

func (f *fakeBlobs) Copy(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[src]
	if !ok {
		return blob.ErrNotFound
	}
	f.objects[dst] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobs) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.objects, k)
		f.deleted = append(f.deleted, k)
	}
	return nil
}

func (f *fakeBlobs) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.example.com/" + key + "?sig=1", nil
}

// ---- harness ----

type testEnv struct {
	t       *testing.T
	store   *fakeStore
	search  *fakeSearch
	history *history.Service
	sink    *fakeSink
	blobs   *fakeBlobs
	service *Service
	handler http.Handler
	tokens  map[string]string
	users   map[string]store.User
}

var testPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		CORSOrigin: "*",
	}
}

// newTestEnv seeds tenant t1 with alice (owner) and bob (member), and
// tenant t2 with carol. mutate may adjust Deps before the service is built.
func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	fs := newFakeStore()
	env := &testEnv{
		t:       t,
		store:   fs,
		search:  newFakeSearch(),
		history: history.New(t.TempDir()),
		sink:    &fakeSink{},
		blobs:   newFakeBlobs(),
		tokens:  map[string]string{},
		users:   map[string]store.User{},
	}
	seed := []store.User{
		{ID: "usr_alice", TenantID: "t1", DisplayName: "Alice", Email: "alice@example.com", TenantRole: "owner"},
		{ID: "usr_bob", TenantID: "t1", DisplayName: "Bob", Email: "bob@example.com", TenantRole: "member"},
		{ID: "usr_dana", TenantID: "t1", DisplayName: "Dana", Email: "dana@example.com", TenantRole: "member"},
		{ID: "usr_carol", TenantID: "t2", DisplayName: "Carol", Email: "carol@example.com", TenantRole: "owner"},
	}
	fs.tenants["t1"] = store.Tenant{ID: "t1", Name: "Acme"}
	fs.tenants["t2"] = store.Tenant{ID: "t2", Name: "Globex"}
	for _, u := range seed {
		u.PasswordHash = string(testPasswordHash)
		u.IsEmailVerified = true
		fs.users[u.ID] = u
		env.users[strings.ToLower(u.DisplayName)] = u
	}

	deps := Deps{
		Store:   fs,
		Search:  env.search,
		History: env.history,
		Blobs:   env.blobs,
		Audit:   env.sink,
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.service = New(testConfig(), deps)
	env.handler = NewHTTPServer(env.service, "*", nil).Handler()

	for name, u := range env.users {
		session, err := env.service.issueSession(context.Background(), u)
		if err != nil {
			t.Fatalf("issue session for %s: %v", name, err)
		}
		env.tokens[name] = session.Token
	}
	return env
}

func (e *testEnv) do(method, path, user string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:4321"
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[user])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, want, rec.Body.String())
	}
	if rec.Body.Len() == 0 {
		return nil
	}
	return decodeJSON(t, rec)
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	payload := expectStatus(t, rec, status)
	if payload["code"] != code {
		t.Fatalf("code = %v, want %s; body %s", payload["code"], code, rec.Body.String())
	}
}

// createDrive creates a drive owned by user and returns its ID.
func (e *testEnv) createDrive(user, name string) string {
	e.t.Helper()
	payload := expectStatus(e.t, e.do(http.MethodPost, "/api/drives", user, map[string]any{"name": name}), http.StatusCreated)
	return payload["id"].(string)
}

func (e *testEnv) createPage(user, driveID string, parentID *string, pageType, title string) string {
	e.t.Helper()
	body := map[string]any{"driveId": driveID, "type": pageType, "title": title}
	if parentID != nil {
		body["parentId"] = *parentID
	}
	payload := expectStatus(e.t, e.do(http.MethodPost, "/api/pages", user, body), http.StatusCreated)
	return payload["id"].(string)
}

func (e *testEnv) addMember(owner, driveID, email, role string) {
	e.t.Helper()
	expectStatus(e.t, e.do(http.MethodPost, "/api/drives/"+driveID+"/members", owner, map[string]any{"email": email, "role": role}), http.StatusCreated)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
