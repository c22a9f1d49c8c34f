package store

import "time"

type Tenant struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

type User struct {
	ID                    string
	TenantID              string
	DisplayName           string
	Email                 string
	PasswordHash          string
	TenantRole            string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Drive struct {
	ID        string
	TenantID  string
	Name      string
	Slug      string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
	TrashedAt *time.Time
	// Role of the requesting user, joined by ListDrivesForUser
	Role string
}

type DriveMember struct {
	DriveID   string
	UserID    string
	Role      string
	InvitedBy string
	CreatedAt time.Time
	// Joined for API responses
	UserEmail string
	UserName  string
}

// Page is one node of a drive's content tree. Content holds ProseMirror JSON
// for documents and is empty for folders and files.
type Page struct {
	ID        string
	DriveID   string
	ParentID  *string
	Position  float64
	Type      string
	Title     string
	Content   string
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	TrashedAt *time.Time
}

// PageCopy inserts Page with the content and file metadata of SourceID.
type PageCopy struct {
	SourceID string
	Page     Page
}

// PageMove is a placement change applied in one transaction.
type PageMove struct {
	ID       string
	DriveID  string
	ParentID *string
	Position float64
}

type Favorite struct {
	UserID    string
	PageID    string
	Title     string
	DriveID   string
	CreatedAt time.Time
}

type AuditEvent struct {
	ID         string
	TenantID   string
	ActorID    string
	ActorName  string
	Action     string
	Resource   string
	ResourceID string
	Outcome    string
	SourceIP   string
	Metadata   map[string]string
	CreatedAt  time.Time
}

type AuditFilter struct {
	Action   string
	ActorID  string
	Resource string
	Before   *time.Time
	Limit    int
}

// SIEMDestination stores the secret encrypted; SecretCipher is vault output.
type SIEMDestination struct {
	ID           string
	TenantID     string
	Name         string
	Kind         string
	Endpoint     string
	Network      string
	SecretCipher string
	Facility     int
	AppName      string
	Enabled      bool
	CreatedBy    string
	CreatedAt    time.Time
}

type FileObject struct {
	PageID      string
	Key         string
	Filename    string
	ContentType string
	Size        int64
	ETag        string
	UploadedBy  string
	CreatedAt   time.Time
}
