package app

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pagespace/internal/rbac"
	"pagespace/internal/siem"
	"pagespace/internal/store"
	"pagespace/internal/util"
)

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// authorizeDrive loads the drive and checks the caller's role for action.
// Drives of other tenants and drives the caller is not a member of look
// missing; a member without the needed role gets 403 and a denied audit
// event.
func (s *Service) authorizeDrive(ctx context.Context, session Session, driveID string, action rbac.Action) (store.Drive, rbac.Role, error) {
	drive, err := s.store.GetDrive(ctx, driveID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Drive{}, "", errNotFound
		}
		return store.Drive{}, "", err
	}
	if drive.TenantID != session.TenantID {
		return store.Drive{}, "", errNotFound
	}
	raw, err := s.store.GetDriveRole(ctx, driveID, session.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Drive{}, "", errNotFound
		}
		return store.Drive{}, "", err
	}
	role := rbac.Normalize(raw)
	if !rbac.Can(role, action) {
		e := entryFor(session, "access."+string(action), "drive", driveID)
		e.outcome = siem.OutcomeDenied
		e.metadata = map[string]string{"role": string(role)}
		s.record(ctx, e)
		return store.Drive{}, role, errForbidden
	}
	drive.Role = string(role)
	return drive, role, nil
}

// authorizePage resolves the page's drive and checks action on it.
func (s *Service) authorizePage(ctx context.Context, session Session, pageID string, action rbac.Action) (store.Page, store.Drive, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Page{}, store.Drive{}, errNotFound
		}
		return store.Page{}, store.Drive{}, err
	}
	drive, _, err := s.authorizeDrive(ctx, session, page.DriveID, action)
	if err != nil {
		return store.Page{}, store.Drive{}, err
	}
	return page, drive, nil
}

func (s *Service) requireTenantAdmin(ctx context.Context, session Session, action string) error {
	if session.IsTenantAdmin() {
		return nil
	}
	e := entryFor(session, action, "tenant", session.TenantID)
	e.outcome = siem.OutcomeDenied
	s.record(ctx, e)
	return errForbidden
}

// ---- drives ----

func (s *Service) ListDrives(ctx context.Context, session Session) ([]map[string]any, error) {
	drives, err := s.store.ListDrivesForUser(ctx, session.TenantID, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(drives))
	for _, d := range drives {
		items = append(items, driveView(d))
	}
	return items, nil
}

func (s *Service) CreateDrive(ctx context.Context, session Session, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if len(name) > 200 {
		return nil, validationError("name must be at most 200 characters")
	}
	drive := store.Drive{
		ID:       s.newID("drv"),
		TenantID: session.TenantID,
		Name:     name,
		Slug:     util.Slugify(name),
		OwnerID:  session.UserID,
		Role:     string(rbac.RoleOwner),
	}
	if err := s.store.CreateDrive(ctx, drive); err != nil {
		return nil, err
	}
	s.record(ctx, entryFor(session, "drive.create", "drive", drive.ID))
	return driveView(drive), nil
}

func (s *Service) GetDrive(ctx context.Context, session Session, driveID string) (map[string]any, error) {
	drive, _, err := s.authorizeDrive(ctx, session, driveID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return driveView(drive), nil
}

func (s *Service) RenameDrive(ctx context.Context, session Session, driveID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	drive, _, err := s.authorizeDrive(ctx, session, driveID, rbac.ActionAdmin)
	if err != nil {
		return nil, err
	}
	drive.Name = name
	drive.Slug = util.Slugify(name)
	if err := s.store.UpdateDrive(ctx, driveID, drive.Name, drive.Slug); err != nil {
		return nil, err
	}
	e := entryFor(session, "drive.update", "drive", driveID)
	e.metadata = map[string]string{"name": name}
	s.record(ctx, e)
	return driveView(drive), nil
}

func (s *Service) DeleteDrive(ctx context.Context, session Session, driveID string) error {
	if _, _, err := s.authorizeDrive(ctx, session, driveID, rbac.ActionDelete); err != nil {
		return err
	}
	pages, err := s.store.ListDrivePages(ctx, driveID)
	if err != nil {
		return err
	}
	if err := s.store.TrashDrive(ctx, driveID); err != nil {
		return err
	}
	ids := make([]string, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.ID)
	}
	s.unindex(ids...)
	s.record(ctx, entryFor(session, "drive.delete", "drive", driveID))
	return nil
}

// ---- members ----

func (s *Service) ListMembers(ctx context.Context, session Session, driveID string) ([]map[string]any, error) {
	if _, _, err := s.authorizeDrive(ctx, session, driveID, rbac.ActionRead); err != nil {
		return nil, err
	}
	members, err := s.store.ListDriveMembers(ctx, driveID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, memberView(m))
	}
	return items, nil
}

// AddMember grants a tenant user a role on the drive. Callers cannot grant
// owner, nor a role above their own.
func (s *Service) AddMember(ctx context.Context, session Session, driveID, email, role string) (map[string]any, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !rbac.Valid(role) {
		return nil, validationError("role must be viewer, editor or admin")
	}
	target := rbac.Normalize(role)
	if target == rbac.RoleOwner {
		return nil, validationError("ownership cannot be granted")
	}
	drive, callerRole, err := s.authorizeDrive(ctx, session, driveID, rbac.ActionShare)
	if err != nil {
		return nil, err
	}
	if !rbac.AtLeast(callerRole, target) {
		return nil, domainError(http.StatusForbidden, "ROLE_TOO_HIGH", "You cannot grant a role above your own", nil)
	}

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil || user.TenantID != session.TenantID {
		if err == nil || store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No user with that email in this workspace", nil)
		}
		return nil, err
	}
	if user.ID == drive.OwnerID {
		return nil, domainError(http.StatusConflict, "OWNER_ROLE_FIXED", "The drive owner's role cannot be changed", nil)
	}

	member := store.DriveMember{
		DriveID:   driveID,
		UserID:    user.ID,
		Role:      string(target),
		InvitedBy: session.UserID,
		UserEmail: user.Email,
		UserName:  user.DisplayName,
	}
	if err := s.store.UpsertDriveMember(ctx, member); err != nil {
		return nil, err
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		if err := s.mailer.SendDriveInvitation(user.Email, session.UserName, drive.Name, drive.ID, string(target)); err != nil {
			s.logger.Warn("send drive invitation", zap.String("drive_id", driveID), zap.Error(err))
		}
	}

	e := entryFor(session, "drive.member.add", "drive", driveID)
	e.metadata = map[string]string{"userId": user.ID, "role": string(target)}
	s.record(ctx, e)
	return memberView(member), nil
}

// RemoveMember revokes access. Any member may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, session Session, driveID, userID string) error {
	action := rbac.ActionShare
	if userID == session.UserID {
		action = rbac.ActionRead
	}
	if _, _, err := s.authorizeDrive(ctx, session, driveID, action); err != nil {
		return err
	}
	if err := s.store.RemoveDriveMember(ctx, driveID, userID); err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "MEMBER_NOT_FOUND", "Not a removable member of this drive", nil)
		}
		return err
	}
	e := entryFor(session, "drive.member.remove", "drive", driveID)
	e.metadata = map[string]string{"userId": userID}
	s.record(ctx, e)
	return nil
}
