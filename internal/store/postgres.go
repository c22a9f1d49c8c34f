package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pagespace/internal/pagetree"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction and commits when it returns nil.
func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ---- tenants and users ----

func (s *PostgresStore) CreateTenantWithOwner(ctx context.Context, tenant Tenant, owner User) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tenants (id, name, slug) VALUES ($1, $2, $3)`, tenant.ID, tenant.Name, tenant.Slug); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		return insertUser(ctx, tx, owner)
	})
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	return insertUser(ctx, s.db, user)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, db execer, user User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, display_name, email, password_hash, tenant_role, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, LOWER($4), $5, $6, $7, NULLIF($8, ''), $9)
	`, user.ID, user.TenantID, user.DisplayName, user.Email, user.PasswordHash, user.TenantRole,
		user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, tenant_id, display_name, email, password_hash, tenant_role, is_email_verified,
	COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.TenantRole,
		&u.IsEmailVerified, &u.VerificationToken, &u.VerificationExpiresAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, strings.TrimSpace(email)))
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

// VerifyUserEmail marks the holder of an unexpired token verified and
// returns the updated user.
func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
		RETURNING `+userColumns, token))
	if err != nil {
		return User{}, fmt.Errorf("verify email: %w", err)
	}
	return user, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- sessions ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = (
			SELECT user_id FROM refresh_sessions
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`, tokenHash))
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- drives ----

func (s *PostgresStore) CreateDrive(ctx context.Context, drive Drive) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO drives (id, tenant_id, name, slug, owner_id) VALUES ($1, $2, $3, $4, $5)
		`, drive.ID, drive.TenantID, drive.Name, drive.Slug, drive.OwnerID); err != nil {
			return fmt.Errorf("insert drive: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO drive_members (drive_id, user_id, role, invited_by) VALUES ($1, $2, 'owner', $2)
		`, drive.ID, drive.OwnerID); err != nil {
			return fmt.Errorf("insert drive owner: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetDrive(ctx context.Context, id string) (Drive, error) {
	var d Drive
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, slug, owner_id, created_at, updated_at, trashed_at
		FROM drives WHERE id=$1 AND trashed_at IS NULL
	`, id).Scan(&d.ID, &d.TenantID, &d.Name, &d.Slug, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt, &d.TrashedAt)
	return d, err
}

func (s *PostgresStore) ListDrivesForUser(ctx context.Context, tenantID, userID string) ([]Drive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.tenant_id, d.name, d.slug, d.owner_id, d.created_at, d.updated_at, m.role
		FROM drives d
		JOIN drive_members m ON m.drive_id = d.id AND m.user_id = $2
		WHERE d.tenant_id = $1 AND d.trashed_at IS NULL
		ORDER BY d.name, d.id
	`, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list drives: %w", err)
	}
	defer rows.Close()

	drives := make([]Drive, 0)
	for rows.Next() {
		var d Drive
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Name, &d.Slug, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt, &d.Role); err != nil {
			return nil, fmt.Errorf("scan drive: %w", err)
		}
		drives = append(drives, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drives: %w", err)
	}
	return drives, nil
}

func (s *PostgresStore) UpdateDrive(ctx context.Context, id, name, slug string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drives SET name=$2, slug=$3, updated_at=NOW() WHERE id=$1 AND trashed_at IS NULL
	`, id, name, slug)
	if err != nil {
		return fmt.Errorf("update drive: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) TrashDrive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE drives SET trashed_at=NOW(), updated_at=NOW() WHERE id=$1 AND trashed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("trash drive: %w", err)
	}
	return requireRow(res)
}

// GetDriveRole returns sql.ErrNoRows when the user is not a member.
func (s *PostgresStore) GetDriveRole(ctx context.Context, driveID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT m.role FROM drive_members m
		JOIN drives d ON d.id = m.drive_id AND d.trashed_at IS NULL
		WHERE m.drive_id=$1 AND m.user_id=$2
	`, driveID, userID).Scan(&role)
	return role, err
}

func (s *PostgresStore) ListDriveMembers(ctx context.Context, driveID string) ([]DriveMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.drive_id, m.user_id, m.role, COALESCE(m.invited_by, ''), m.created_at, u.email, u.display_name
		FROM drive_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.drive_id = $1
		ORDER BY m.created_at, m.user_id
	`, driveID)
	if err != nil {
		return nil, fmt.Errorf("list drive members: %w", err)
	}
	defer rows.Close()

	members := make([]DriveMember, 0)
	for rows.Next() {
		var m DriveMember
		if err := rows.Scan(&m.DriveID, &m.UserID, &m.Role, &m.InvitedBy, &m.CreatedAt, &m.UserEmail, &m.UserName); err != nil {
			return nil, fmt.Errorf("scan drive member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drive members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) UpsertDriveMember(ctx context.Context, member DriveMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drive_members (drive_id, user_id, role, invited_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (drive_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, member.DriveID, member.UserID, member.Role, member.InvitedBy)
	if err != nil {
		return fmt.Errorf("upsert drive member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveDriveMember(ctx context.Context, driveID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drive_members WHERE drive_id=$1 AND user_id=$2 AND role <> 'owner'`, driveID, userID)
	if err != nil {
		return fmt.Errorf("remove drive member: %w", err)
	}
	return requireRow(res)
}

// ---- pages ----

const pageColumns = `id, drive_id, parent_id, position, type, title, content::text, created_by, updated_by, created_at, updated_at, trashed_at`

func scanPage(row interface{ Scan(...any) error }) (Page, error) {
	var p Page
	err := row.Scan(&p.ID, &p.DriveID, &p.ParentID, &p.Position, &p.Type, &p.Title, &p.Content,
		&p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt, &p.TrashedAt)
	return p, err
}

func collectPages(rows *sql.Rows) ([]Page, error) {
	defer rows.Close()
	pages := make([]Page, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

// GetPage returns the page whether or not it is in the trash.
func (s *PostgresStore) GetPage(ctx context.Context, id string) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, id))
}

// ListDrivePages returns every live page of the drive without content.
func (s *PostgresStore) ListDrivePages(ctx context.Context, driveID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, drive_id, parent_id, position, type, title, ''::text, created_by, updated_by, created_at, updated_at, trashed_at
		FROM pages
		WHERE drive_id=$1 AND trashed_at IS NULL
		ORDER BY position, id
	`, driveID)
	if err != nil {
		return nil, fmt.Errorf("list drive pages: %w", err)
	}
	return collectPages(rows)
}

// ListPagesByIDs returns the live pages among ids, content included.
func (s *PostgresStore) ListPagesByIDs(ctx context.Context, ids []string) ([]Page, error) {
	if len(ids) == 0 {
		return []Page{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ANY($1) AND trashed_at IS NULL ORDER BY position, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list pages by id: %w", err)
	}
	return collectPages(rows)
}

// ListTrash returns the roots of trashed subtrees in the drive.
func (s *PostgresStore) ListTrash(ctx context.Context, driveID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.drive_id, p.parent_id, p.position, p.type, p.title, ''::text, p.created_by, p.updated_by, p.created_at, p.updated_at, p.trashed_at
		FROM pages p
		WHERE p.drive_id=$1 AND p.trashed_at IS NOT NULL
			AND NOT EXISTS (
				SELECT 1 FROM pages parent
				WHERE parent.id = p.parent_id AND parent.trashed_at = p.trashed_at
			)
		ORDER BY p.trashed_at DESC, p.id
	`, driveID)
	if err != nil {
		return nil, fmt.Errorf("list trash: %w", err)
	}
	return collectPages(rows)
}

func (s *PostgresStore) InsertPage(ctx context.Context, page Page) error {
	content := page.Content
	if content == "" {
		content = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (id, drive_id, parent_id, position, type, title, content, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $8)
	`, page.ID, page.DriveID, page.ParentID, page.Position, page.Type, page.Title, content, page.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// InsertPages writes copies in order, duplicating content and file metadata
// from each source. Parents must precede their children.
func (s *PostgresStore) InsertPages(ctx context.Context, copies []PageCopy, actorID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range copies {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO pages (id, drive_id, parent_id, position, type, title, content, created_by, updated_by)
				SELECT $1, $2, $3, $4, type, $5, content, $6, $6 FROM pages WHERE id=$7
			`, c.Page.ID, c.Page.DriveID, c.Page.ParentID, c.Page.Position, c.Page.Title, actorID, c.SourceID)
			if err != nil {
				return fmt.Errorf("copy page %s: %w", c.SourceID, err)
			}
			if err := requireRow(res); err != nil {
				return fmt.Errorf("copy page %s: %w", c.SourceID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO file_objects (page_id, object_key, filename, content_type, size_bytes, etag, uploaded_by)
				SELECT $1, object_key, filename, content_type, size_bytes, etag, uploaded_by FROM file_objects WHERE page_id=$2
			`, c.Page.ID, c.SourceID); err != nil {
				return fmt.Errorf("copy file object %s: %w", c.SourceID, err)
			}
		}
		return nil
	})
}

// UpdatePage changes the title and, when content is non-nil, the content.
func (s *PostgresStore) UpdatePage(ctx context.Context, id, title string, content *string, updatedBy string) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, `
		UPDATE pages
		SET title=$2, content=COALESCE($3::jsonb, content), updated_by=$4, updated_at=NOW()
		WHERE id=$1 AND trashed_at IS NULL
		RETURNING `+pageColumns, id, title, content, updatedBy))
}

// ApplyPageMoves writes a move plan atomically. Moves touching the same
// drive are serialized on an advisory lock, and the plan is rejected with
// pagetree.ErrCycle if, once written, any moved page sits on its own
// ancestor chain. That happens when the plan was computed before a
// concurrent move committed.
func (s *PostgresStore) ApplyPageMoves(ctx context.Context, moves []PageMove, updatedBy string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockMoveDrives(ctx, tx, moves); err != nil {
			return err
		}
		for _, m := range moves {
			res, err := tx.ExecContext(ctx, `
				UPDATE pages SET drive_id=$2, parent_id=$3, position=$4, updated_by=$5, updated_at=NOW()
				WHERE id=$1 AND trashed_at IS NULL
			`, m.ID, m.DriveID, m.ParentID, m.Position, updatedBy)
			if err != nil {
				return fmt.Errorf("move page %s: %w", m.ID, err)
			}
			if err := requireRow(res); err != nil {
				return fmt.Errorf("move page %s: %w", m.ID, err)
			}
		}
		for _, m := range moves {
			if m.ParentID == nil {
				continue
			}
			var looped bool
			if err := tx.QueryRowContext(ctx, `
				WITH RECURSIVE ancestors(id) AS (
					SELECT parent_id FROM pages WHERE id=$1
					UNION
					SELECT p.parent_id FROM pages p JOIN ancestors a ON p.id = a.id WHERE p.parent_id IS NOT NULL
				)
				SELECT EXISTS (SELECT 1 FROM ancestors WHERE id=$1)
			`, m.ID).Scan(&looped); err != nil {
				return fmt.Errorf("check ancestors of %s: %w", m.ID, err)
			}
			if looped {
				return fmt.Errorf("move page %s: %w", m.ID, pagetree.ErrCycle)
			}
		}
		return nil
	})
}

// moveLockKeys returns the sorted advisory lock keys for the target drives
// of moves plus the given source drives.
func moveLockKeys(moves []PageMove, sourceDrives []string) []string {
	seen := make(map[string]bool)
	keys := make([]string, 0, len(moves))
	add := func(driveID string) {
		if driveID == "" || seen[driveID] {
			return
		}
		seen[driveID] = true
		keys = append(keys, "pages:drive:"+driveID)
	}
	for _, m := range moves {
		add(m.DriveID)
	}
	for _, d := range sourceDrives {
		add(d)
	}
	sort.Strings(keys)
	return keys
}

// lockMoveDrives takes a transaction-scoped advisory lock on every drive a
// plan reads from or writes to, in a fixed order.
func lockMoveDrives(ctx context.Context, tx *sql.Tx, moves []PageMove) error {
	ids := make([]string, 0, len(moves))
	for _, m := range moves {
		ids = append(ids, m.ID)
	}
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT drive_id FROM pages WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load source drives: %w", err)
	}
	sources, err := collectIDs(rows)
	if err != nil {
		return fmt.Errorf("load source drives: %w", err)
	}
	for _, key := range moveLockKeys(moves, sources) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
	}
	return nil
}

// TrashPage soft-deletes the page and its live descendants with a shared
// timestamp, and returns the affected IDs.
func (s *PostgresStore) TrashPage(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM pages WHERE id=$1 AND trashed_at IS NULL
			UNION ALL
			SELECT p.id FROM pages p JOIN subtree s ON p.parent_id = s.id WHERE p.trashed_at IS NULL
		)
		UPDATE pages SET trashed_at=$2, updated_at=NOW()
		WHERE id IN (SELECT id FROM subtree)
		RETURNING id
	`, id, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("trash page: %w", err)
	}
	return collectIDs(rows)
}

// RestorePage brings back a trashed subtree. If the original parent is gone
// or still trashed, the page is restored at the drive root.
func (s *PostgresStore) RestorePage(ctx context.Context, id string) ([]string, error) {
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var driveID string
		var parentLive bool
		err := tx.QueryRowContext(ctx, `
			SELECT p.drive_id, EXISTS(SELECT 1 FROM pages pp WHERE pp.id = p.parent_id AND pp.trashed_at IS NULL)
			FROM pages p WHERE p.id=$1 AND p.trashed_at IS NOT NULL
		`, id).Scan(&driveID, &parentLive)
		if err != nil {
			return err
		}
		if !parentLive {
			if _, err := tx.ExecContext(ctx, `
				UPDATE pages SET parent_id=NULL, position=(
					SELECT COALESCE(MAX(position), 0) + 1024 FROM pages
					WHERE drive_id=$2 AND parent_id IS NULL AND trashed_at IS NULL
				) WHERE id=$1
			`, id, driveID); err != nil {
				return fmt.Errorf("reparent restored page: %w", err)
			}
		}
		rows, err := tx.QueryContext(ctx, `
			WITH RECURSIVE subtree AS (
				SELECT id, trashed_at FROM pages WHERE id=$1 AND trashed_at IS NOT NULL
				UNION ALL
				SELECT p.id, p.trashed_at FROM pages p JOIN subtree s ON p.parent_id = s.id WHERE p.trashed_at = s.trashed_at
			)
			UPDATE pages SET trashed_at=NULL, updated_at=NOW()
			WHERE id IN (SELECT id FROM subtree)
			RETURNING id
		`, id)
		if err != nil {
			return fmt.Errorf("restore page: %w", err)
		}
		ids, err = collectIDs(rows)
		return err
	})
	return ids, err
}

// PurgePage permanently deletes a trashed page and everything below it. It
// returns the deleted IDs and the blob keys no longer referenced by any page.
func (s *PostgresStore) PurgePage(ctx context.Context, id string) ([]string, []string, error) {
	var ids, keys []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			WITH RECURSIVE subtree AS (
				SELECT id FROM pages WHERE id=$1 AND trashed_at IS NOT NULL
				UNION ALL
				SELECT p.id FROM pages p JOIN subtree s ON p.parent_id = s.id
			)
			SELECT id FROM subtree
		`, id)
		if err != nil {
			return fmt.Errorf("collect purge set: %w", err)
		}
		if ids, err = collectIDs(rows); err != nil {
			return err
		}
		if len(ids) == 0 {
			return sql.ErrNoRows
		}

		rows, err = tx.QueryContext(ctx, `
			SELECT DISTINCT object_key FROM file_objects f
			WHERE f.page_id = ANY($1)
				AND NOT EXISTS (SELECT 1 FROM file_objects o WHERE o.object_key = f.object_key AND NOT (o.page_id = ANY($1)))
		`, ids)
		if err != nil {
			return fmt.Errorf("collect orphan blobs: %w", err)
		}
		if keys, err = collectIDs(rows); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("purge pages: %w", err)
		}
		return nil
	})
	return ids, keys, err
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---- favorites ----

func (s *PostgresStore) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.user_id, f.page_id, p.title, p.drive_id, f.created_at
		FROM favorites f
		JOIN pages p ON p.id = f.page_id AND p.trashed_at IS NULL
		JOIN drive_members m ON m.drive_id = p.drive_id AND m.user_id = f.user_id
		WHERE f.user_id=$1
		ORDER BY f.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	items := make([]Favorite, 0)
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.UserID, &f.PageID, &f.Title, &f.DriveID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddFavorite(ctx context.Context, userID, pageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, page_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, userID, pageID)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFavorite(ctx context.Context, userID, pageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE user_id=$1 AND page_id=$2`, userID, pageID)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// ---- audit ----

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, tenant_id, actor_id, actor_name, action, resource, resource_id, outcome, source_ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)
	`, event.ID, event.TenantID, event.ActorID, event.ActorName, event.Action, event.Resource, event.ResourceID,
		event.Outcome, event.SourceIP, string(payload), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, tenantID string, filter AuditFilter) ([]AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args := []any{tenantID}
	where := []string{"tenant_id = $1"}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Resource != "" {
		add("resource = $%d", filter.Resource)
	}
	if filter.Before != nil {
		add("created_at < $%d", *filter.Before)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, actor_id, actor_name, action, resource, resource_id, outcome, source_ip, metadata::text, created_at
		FROM audit_events
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT %d
	`, strings.Join(where, " AND "), limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]AuditEvent, 0)
	for rows.Next() {
		var e AuditEvent
		var metadata string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.ActorName, &e.Action, &e.Resource, &e.ResourceID,
			&e.Outcome, &e.SourceIP, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// ---- SIEM destinations ----

const destinationColumns = `id, tenant_id, name, kind, endpoint, network, secret_cipher, facility, app_name, enabled, created_by, created_at`

func scanDestination(row interface{ Scan(...any) error }) (SIEMDestination, error) {
	var d SIEMDestination
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Kind, &d.Endpoint, &d.Network, &d.SecretCipher,
		&d.Facility, &d.AppName, &d.Enabled, &d.CreatedBy, &d.CreatedAt)
	return d, err
}

func (s *PostgresStore) listDestinations(ctx context.Context, query string, args ...any) ([]SIEMDestination, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list siem destinations: %w", err)
	}
	defer rows.Close()

	items := make([]SIEMDestination, 0)
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scan siem destination: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate siem destinations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListSIEMDestinations(ctx context.Context, tenantID string) ([]SIEMDestination, error) {
	return s.listDestinations(ctx, `SELECT `+destinationColumns+` FROM siem_destinations WHERE tenant_id=$1 ORDER BY created_at, id`, tenantID)
}

// ListEnabledSIEMDestinations spans all tenants; the forwarder routes by tenant.
func (s *PostgresStore) ListEnabledSIEMDestinations(ctx context.Context) ([]SIEMDestination, error) {
	return s.listDestinations(ctx, `SELECT `+destinationColumns+` FROM siem_destinations WHERE enabled ORDER BY tenant_id, id`)
}

func (s *PostgresStore) GetSIEMDestination(ctx context.Context, tenantID, id string) (SIEMDestination, error) {
	return scanDestination(s.db.QueryRowContext(ctx, `SELECT `+destinationColumns+` FROM siem_destinations WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (s *PostgresStore) InsertSIEMDestination(ctx context.Context, d SIEMDestination) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO siem_destinations (id, tenant_id, name, kind, endpoint, network, secret_cipher, facility, app_name, enabled, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, d.ID, d.TenantID, d.Name, d.Kind, d.Endpoint, d.Network, d.SecretCipher, d.Facility, d.AppName, d.Enabled, d.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert siem destination: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSIEMDestination(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM siem_destinations WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete siem destination: %w", err)
	}
	return requireRow(res)
}

// ---- files ----

func (s *PostgresStore) UpsertFileObject(ctx context.Context, f FileObject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_objects (page_id, object_key, filename, content_type, size_bytes, etag, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (page_id) DO UPDATE SET object_key=EXCLUDED.object_key, filename=EXCLUDED.filename,
			content_type=EXCLUDED.content_type, size_bytes=EXCLUDED.size_bytes, etag=EXCLUDED.etag,
			uploaded_by=EXCLUDED.uploaded_by, created_at=NOW()
	`, f.PageID, f.Key, f.Filename, f.ContentType, f.Size, f.ETag, f.UploadedBy)
	if err != nil {
		return fmt.Errorf("upsert file object: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFileObject(ctx context.Context, pageID string) (FileObject, error) {
	var f FileObject
	err := s.db.QueryRowContext(ctx, `
		SELECT page_id, object_key, filename, content_type, size_bytes, etag, uploaded_by, created_at
		FROM file_objects WHERE page_id=$1
	`, pageID).Scan(&f.PageID, &f.Key, &f.Filename, &f.ContentType, &f.Size, &f.ETag, &f.UploadedBy, &f.CreatedAt)
	return f, err
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
