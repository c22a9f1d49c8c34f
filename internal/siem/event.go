// Package siem forwards audit events to customer security tooling over
// signed webhooks or RFC 5424 syslog.
package siem

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Outcome of an audited action.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Destination kinds.
const (
	KindWebhook = "webhook"
	KindSyslog  = "syslog"
)

// ErrPermanent marks a delivery the receiver rejected outright.
var ErrPermanent = errors.New("siem: permanent delivery failure")

// Event is one audit record as it leaves the system.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	TenantID   string            `json:"tenantId"`
	Actor      string            `json:"actor"`
	ActorID    string            `json:"actorId,omitempty"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	ResourceID string            `json:"resourceId,omitempty"`
	Outcome    string            `json:"outcome"`
	SourceIP   string            `json:"sourceIp,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewEvent fills ID and Timestamp.
func NewEvent(tenantID, actor, action, resource, resourceID, outcome string) Event {
	return Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		Actor:      actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Outcome:    outcome,
	}
}

// Destination is a configured SIEM endpoint for one tenant.
type Destination struct {
	ID       string
	TenantID string
	Name     string
	Kind     string
	// URL for webhooks, host:port for syslog.
	Endpoint string
	// tcp, udp or tcp+tls; syslog only.
	Network  string
	Secret   string
	Facility int
	AppName  string
	Enabled  bool
}

// fingerprint changes whenever a field that affects the sender changes.
func (d Destination) fingerprint() string {
	return d.Kind + "|" + d.Endpoint + "|" + d.Network + "|" + d.Secret + "|" + d.AppName + "|" + strconv.Itoa(d.Facility)
}

// Sender delivers a batch of events to one destination.
type Sender interface {
	Send(ctx context.Context, events []Event) error
	Close() error
}

// DestinationSource lists the destinations events should go to.
type DestinationSource interface {
	EnabledDestinations(ctx context.Context) ([]Destination, error)
}

// NewSender builds the sender for a destination.
func NewSender(dest Destination) (Sender, error) {
	switch dest.Kind {
	case KindWebhook:
		return NewWebhookSender(dest.Endpoint, dest.Secret, nil)
	case KindSyslog:
		return NewSyslogSender(dest)
	default:
		return nil, errors.New("siem: unknown destination kind " + dest.Kind)
	}
}
