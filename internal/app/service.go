package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"pagespace/internal/auth"
	"pagespace/internal/authpw"
	"pagespace/internal/blob"
	"pagespace/internal/config"
	"pagespace/internal/export"
	"pagespace/internal/history"
	"pagespace/internal/mcpbridge"
	"pagespace/internal/ratelimit"
	"pagespace/internal/search"
	"pagespace/internal/siem"
	"pagespace/internal/store"
	"pagespace/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	TenantID     string
	TenantRole   string
	JTI          string
	ExpiresAt    time.Time
}

// IsTenantAdmin reports whether the session may manage tenant settings.
func (s Session) IsTenantAdmin() bool {
	return s.TenantRole == auth.TenantOwner || s.TenantRole == auth.TenantAdmin
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateTenantWithOwner(context.Context, store.Tenant, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	VerifyUserEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateDrive(context.Context, store.Drive) error
	GetDrive(context.Context, string) (store.Drive, error)
	ListDrivesForUser(context.Context, string, string) ([]store.Drive, error)
	UpdateDrive(context.Context, string, string, string) error
	TrashDrive(context.Context, string) error
	GetDriveRole(context.Context, string, string) (string, error)
	ListDriveMembers(context.Context, string) ([]store.DriveMember, error)
	UpsertDriveMember(context.Context, store.DriveMember) error
	RemoveDriveMember(context.Context, string, string) error

	GetPage(context.Context, string) (store.Page, error)
	ListPagesByIDs(context.Context, []string) ([]store.Page, error)
	ListDrivePages(context.Context, string) ([]store.Page, error)
	ListTrash(context.Context, string) ([]store.Page, error)
	InsertPage(context.Context, store.Page) error
	InsertPages(context.Context, []store.PageCopy, string) error
	UpdatePage(context.Context, string, string, *string, string) (store.Page, error)
	ApplyPageMoves(context.Context, []store.PageMove, string) error
	TrashPage(context.Context, string) ([]string, error)
	RestorePage(context.Context, string) ([]string, error)
	PurgePage(context.Context, string) ([]string, []string, error)

	ListFavorites(context.Context, string) ([]store.Favorite, error)
	AddFavorite(context.Context, string, string) error
	RemoveFavorite(context.Context, string, string) error

	InsertAuditEvent(context.Context, store.AuditEvent) error
	ListAuditEvents(context.Context, string, store.AuditFilter) ([]store.AuditEvent, error)

	ListSIEMDestinations(context.Context, string) ([]store.SIEMDestination, error)
	GetSIEMDestination(context.Context, string, string) (store.SIEMDestination, error)
	InsertSIEMDestination(context.Context, store.SIEMDestination) error
	DeleteSIEMDestination(context.Context, string, string) error

	UpsertFileObject(context.Context, store.FileObject) error
	GetFileObject(context.Context, string) (store.FileObject, error)
}

// sessionStore holds refresh sessions; Postgres and Redis both satisfy it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexPages(...search.PageRecord)
	DeletePages(...string)
}

type historyService interface {
	Commit(pageID string, content history.Content, author, message string) (history.Revision, bool, error)
	History(pageID string, limit int) ([]history.Revision, error)
	ContentAt(pageID, hash string) (history.Content, error)
	Restore(pageID, hash, author string) (history.Content, history.Revision, error)
	Remove(pageID string) error
}

type blobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (blob.Object, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, keys ...string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type exporter interface {
	Export(context.Context, export.Document, export.Format) (*export.Result, error)
}

type auditSink interface {
	Publish(siem.Event)
	Test(ctx context.Context, dest siem.Destination, actor string) error
}

type toolBridge interface {
	Accept(w http.ResponseWriter, r *http.Request, userID string) error
	Call(ctx context.Context, userID, tool string, args any) (json.RawMessage, error)
	Status(userID string) mcpbridge.Status
}

type secretBox interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(cipherHex string) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, token string) error
	SendDriveInvitation(to, inviterName, driveName, driveID, role string) error
}

// Deps are the collaborators of a Service. Store and Sessions are
// required; the rest may be nil and the matching routes answer 503.
type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Search   searchService
	History  historyService
	Blobs    blobStore
	Exporter exporter
	Audit    auditSink
	Bridge   toolBridge
	Vault    secretBox
	Mailer   mailer
	Limiter  ratelimit.Limiter
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	auth     *authpw.Service
	search   searchService
	history  historyService
	blobs    blobStore
	exporter exporter
	audit    auditSink
	bridge   toolBridge
	vault    secretBox
	mailer   mailer
	limiter  ratelimit.Limiter
	logger   *zap.Logger
	newID    func(prefix string) string
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		if s, ok := deps.Store.(sessionStore); ok {
			sessions = s
		}
	}
	requireVerify := deps.Mailer != nil && deps.Mailer.IsConfigured()
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: sessions,
		auth:     authpw.NewService(deps.Store, requireVerify),
		search:   deps.Search,
		history:  deps.History,
		blobs:    deps.Blobs,
		exporter: deps.Exporter,
		audit:    deps.Audit,
		bridge:   deps.Bridge,
		vault:    deps.Vault,
		mailer:   deps.Mailer,
		limiter:  deps.Limiter,
		logger:   logger,
		newID:    util.NewID,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- accounts and sessions ----

// SignUp creates the account and its tenant. When mail is configured a
// verification link is sent and no session is issued.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest, sourceIP string) (map[string]any, error) {
	resp, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	s.record(ctx, auditEntry{
		tenantID: resp.Tenant.ID, actorID: resp.User.ID, actorName: resp.User.DisplayName,
		action: "user.signup", resource: "user", resourceID: resp.User.ID, sourceIP: sourceIP,
	})

	payload := map[string]any{
		"userId":   resp.User.ID,
		"tenantId": resp.Tenant.ID,
	}
	if resp.RequiresEmailVerify {
		if err := s.mailer.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, resp.VerificationToken); err != nil {
			s.logger.Warn("send verification email", zap.String("user_id", resp.User.ID), zap.Error(err))
		}
		payload["message"] = "Please check your email to verify your account"
		return payload, nil
	}

	session, err := s.issueSession(ctx, resp.User)
	if err != nil {
		return nil, err
	}
	for k, v := range sessionPayload(session) {
		payload[k] = v
	}
	return payload, nil
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest, sourceIP string) (Session, error) {
	user, err := s.auth.SignIn(ctx, req)
	if err != nil {
		s.recordFailedSignIn(ctx, req.Email, sourceIP, err)
		return Session{}, err
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, auditEntry{
		tenantID: user.TenantID, actorID: user.ID, actorName: user.DisplayName,
		action: "user.signin", resource: "user", resourceID: user.ID, sourceIP: sourceIP,
	})
	return session, nil
}

// recordFailedSignIn audits a rejected password or unverified account.
// Unknown emails have no tenant to file the event under and are only logged.
func (s *Service) recordFailedSignIn(ctx context.Context, email, sourceIP string, cause error) {
	var reason string
	switch {
	case errors.Is(cause, authpw.ErrInvalidCredentials):
		reason = "invalid_credentials"
	case errors.Is(cause, authpw.ErrEmailNotVerified):
		reason = "email_not_verified"
	default:
		return
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		s.logger.Info("sign in failed for unknown account", zap.String("source_ip", sourceIP))
		return
	}
	s.record(ctx, auditEntry{
		tenantID: user.TenantID, actorID: user.ID, actorName: user.DisplayName,
		action: "user.signin", resource: "user", resourceID: user.ID,
		outcome: siem.OutcomeFailure, sourceIP: sourceIP,
		metadata: map[string]string{"reason": reason},
	})
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.auth.VerifyEmail(ctx, token)
	if err != nil {
		return err
	}
	s.record(ctx, auditEntry{
		tenantID: user.TenantID, actorID: user.ID, actorName: user.DisplayName,
		action: "user.verify_email", resource: "user", resourceID: user.ID,
	})
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := s.newID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:        user.ID,
		Name:       user.DisplayName,
		Tenant:     user.TenantID,
		TenantRole: user.TenantRole,
		JTI:        jti,
		Exp:        expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.RandomToken(32)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		TenantID:     user.TenantID,
		TenantRole:   user.TenantRole,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.TenantID != claims.Tenant {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		Email:      user.Email,
		TenantID:   user.TenantID,
		TenantRole: user.TenantRole,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Debug("revoke refresh session", zap.Error(err))
		}
	}
	if session.UserID != "" {
		s.record(ctx, entryFor(session, "user.logout", "user", session.UserID))
	}
	return nil
}

// ---- audit ----

type auditEntry struct {
	tenantID   string
	actorID    string
	actorName  string
	action     string
	resource   string
	resourceID string
	outcome    string
	sourceIP   string
	metadata   map[string]string
}

func entryFor(session Session, action, resource, resourceID string) auditEntry {
	return auditEntry{
		tenantID:   session.TenantID,
		actorID:    session.UserID,
		actorName:  session.UserName,
		action:     action,
		resource:   resource,
		resourceID: resourceID,
	}
}

// record writes the event to the audit table and hands it to the SIEM
// forwarder. Audit failures are logged; they never fail the request.
func (s *Service) record(ctx context.Context, e auditEntry) {
	if e.outcome == "" {
		e.outcome = siem.OutcomeSuccess
	}
	if e.sourceIP == "" {
		e.sourceIP = sourceIPFrom(ctx)
	}
	evt := siem.NewEvent(e.tenantID, e.actorName, e.action, e.resource, e.resourceID, e.outcome)
	evt.ActorID = e.actorID
	evt.SourceIP = e.sourceIP
	evt.Metadata = e.metadata

	if err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		ID:         evt.ID,
		TenantID:   evt.TenantID,
		ActorID:    evt.ActorID,
		ActorName:  evt.Actor,
		Action:     evt.Action,
		Resource:   evt.Resource,
		ResourceID: evt.ResourceID,
		Outcome:    evt.Outcome,
		SourceIP:   evt.SourceIP,
		Metadata:   evt.Metadata,
		CreatedAt:  evt.Timestamp,
	}); err != nil {
		s.logger.Error("insert audit event", zap.String("action", e.action), zap.Error(err))
	}
	if s.audit != nil {
		s.audit.Publish(evt)
	}
}

type sourceIPKey struct{}

func withSourceIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, sourceIPKey{}, ip)
}

func sourceIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(sourceIPKey{}).(string)
	return ip
}
