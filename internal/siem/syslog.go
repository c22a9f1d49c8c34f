package siem

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Severities from RFC 5424 section 6.2.1.
const (
	SeverityWarning       = 4
	SeverityNotice        = 5
	SeverityInformational = 6
)

// DefaultFacility is local0.
const DefaultFacility = 16

// sdID is the structured-data element carrying event fields.
const sdID = "pagespace@32473"

const maxUDPMessage = 2048

// Formatter renders events as RFC 5424 messages.
type Formatter struct {
	Facility int
	Hostname string
	AppName  string
	ProcID   string
}

// NewFormatter fills host and process details from the running process.
func NewFormatter(facility int, appName string) Formatter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}
	if appName == "" {
		appName = "pagespace"
	}
	if facility < 0 || facility > 23 {
		facility = DefaultFacility
	}
	return Formatter{
		Facility: facility,
		Hostname: hostname,
		AppName:  appName,
		ProcID:   strconv.Itoa(os.Getpid()),
	}
}

// SeverityFor maps an outcome to a syslog severity.
func SeverityFor(outcome string) int {
	switch outcome {
	case OutcomeFailure:
		return SeverityWarning
	case OutcomeDenied:
		return SeverityNotice
	default:
		return SeverityInformational
	}
}

// Format renders one event without transport framing.
func (f Formatter) Format(evt Event) string {
	pri := f.Facility*8 + SeverityFor(evt.Outcome)

	var b strings.Builder
	b.WriteString("<")
	b.WriteString(strconv.Itoa(pri))
	b.WriteString(">1 ")
	if evt.Timestamp.IsZero() {
		b.WriteString("-")
	} else {
		b.WriteString(evt.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"))
	}
	b.WriteString(" ")
	b.WriteString(headerField(f.Hostname, 255))
	b.WriteString(" ")
	b.WriteString(headerField(f.AppName, 48))
	b.WriteString(" ")
	b.WriteString(headerField(f.ProcID, 128))
	b.WriteString(" ")
	b.WriteString(headerField(evt.Action, 32))
	b.WriteString(" ")
	b.WriteString(structuredData(evt))
	b.WriteString(" ")
	b.WriteString(message(evt))
	return b.String()
}

// headerField keeps PRINTUSASCII only and substitutes NILVALUE for empty.
func headerField(value string, max int) string {
	var b strings.Builder
	for _, r := range value {
		if r < 33 || r > 126 {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" {
		return "-"
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func structuredData(evt Event) string {
	params := [][2]string{
		{"eventId", evt.ID},
		{"tenant", evt.TenantID},
		{"actor", evt.Actor},
		{"actorId", evt.ActorID},
		{"action", evt.Action},
		{"resource", evt.Resource},
		{"resourceId", evt.ResourceID},
		{"outcome", evt.Outcome},
		{"sourceIp", evt.SourceIP},
	}
	keys := make([]string, 0, len(evt.Metadata))
	for k := range evt.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params = append(params, [2]string{paramName(k), evt.Metadata[k]})
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(sdID)
	for _, p := range params {
		if p[1] == "" || p[0] == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(p[0])
		b.WriteString(`="`)
		b.WriteString(escapeParam(p[1]))
		b.WriteString(`"`)
	}
	b.WriteString("]")
	return b.String()
}

// paramName drops characters SD-NAME forbids.
func paramName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 33 || r > 126 || r == '=' || r == ' ' || r == ']' || r == '"' {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}

func escapeParam(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `]`, `\]`)
	return r.Replace(value)
}

func message(evt Event) string {
	target := evt.Resource
	if evt.ResourceID != "" {
		target += "/" + evt.ResourceID
	}
	actor := evt.Actor
	if actor == "" {
		actor = "system"
	}
	return fmt.Sprintf("%s %s %s %s", actor, evt.Action, target, evt.Outcome)
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// FrameOctetCounted applies RFC 6587 octet-counting framing.
func FrameOctetCounted(msg string) []byte {
	return []byte(strconv.Itoa(len(msg)) + " " + msg)
}

// SyslogSender writes events over a lazily dialed TCP, TLS or UDP connection.
type SyslogSender struct {
	network   string
	address   string
	formatter Formatter
	dial      func(ctx context.Context) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
}

// NewSyslogSender builds a sender for dest; no connection is made yet.
func NewSyslogSender(dest Destination) (*SyslogSender, error) {
	network := dest.Network
	if network == "" {
		network = "tcp"
	}
	if _, _, err := net.SplitHostPort(dest.Endpoint); err != nil {
		return nil, fmt.Errorf("siem: invalid syslog address %q: %w", dest.Endpoint, err)
	}

	s := &SyslogSender{
		network:   network,
		address:   dest.Endpoint,
		formatter: NewFormatter(dest.Facility, dest.AppName),
	}
	switch network {
	case "tcp", "udp":
		s.dial = func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, dest.Endpoint)
		}
	case "tcp+tls":
		s.dial = func(ctx context.Context) (net.Conn, error) {
			d := tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12}}
			return d.DialContext(ctx, "tcp", dest.Endpoint)
		}
	default:
		return nil, fmt.Errorf("siem: unsupported syslog network %q", network)
	}
	return s, nil
}

func (s *SyslogSender) frame(evt Event) []byte {
	msg := s.formatter.Format(evt)
	if s.network == "udp" {
		return []byte(truncateUTF8(msg, maxUDPMessage))
	}
	return FrameOctetCounted(msg)
}

// Send writes every event. A failed write drops the connection and is
// retried once on a fresh one.
func (s *SyslogSender) Send(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, evt := range events {
		payload := s.frame(evt)
		if err := s.write(ctx, payload); err != nil {
			s.dropConn()
			if err := s.write(ctx, payload); err != nil {
				s.dropConn()
				return fmt.Errorf("write syslog %s: %w", s.address, err)
			}
		}
	}
	return nil
}

func (s *SyslogSender) write(ctx context.Context, payload []byte) error {
	if s.conn == nil {
		conn, err := s.dial(ctx)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		s.conn = conn
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	_, err := s.conn.Write(payload)
	return err
}

func (s *SyslogSender) dropConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *SyslogSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropConn()
	return nil
}
