package metadata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
)

// Transport-native keys. Transports that have first-class properties for
// these (AMQP, for example) map them onto those properties.
const (
	KeyContentType     = "content_type"
	KeyContentEncoding = "content_encoding"
	KeyCorrelationID   = "correlation_id"
	KeyReplyTo         = "reply_to"
	KeyExpiration      = "expiration"
)

// Header names shared by every client and server.
const (
	HeaderRequestType          = "RequestType"
	HeaderAccessToken          = "AccessToken"
	HeaderTimeout              = "Timeout"
	HeaderTelemetryOperationID = "TelemetryOperationId"
	HeaderTelemetryParentID    = "TelemetryParentId"
	HeaderTelemetrySource      = "TelemetrySource"
)

// ContentEncodingUTF8 is the only accepted text encoding.
const ContentEncodingUTF8 = "utf-8"

// TraceHeaders are the propagation fields carried on the wire.
type TraceHeaders struct {
	OperationID string
	ParentID    string
	Source      string
}

// IsZero reports whether no trace field is set.
func (t TraceHeaders) IsZero() bool {
	return t.OperationID == "" && t.ParentID == "" && t.Source == ""
}

// Outbound describes the logical fields stamped on an outgoing message.
type Outbound struct {
	ContentType   string
	CorrelationID string
	ReplyTo       string
	RequestType   string
	AccessToken   string
	// Timeout is written to the Timeout header when positive.
	Timeout time.Duration
	// Expiration lets the broker discard the message once stale.
	Expiration time.Duration
	Trace      TraceHeaders
}

// Inbound holds the fields decoded from an incoming message.
type Inbound struct {
	ContentType     string
	ContentEncoding string
	CorrelationID   string
	ReplyTo         string
	RequestType     string
	AccessToken     string
	// Timeout is zero when the header was absent.
	Timeout    time.Duration
	Expiration time.Duration
	Trace      TraceHeaders
}

// Encode stamps out onto a copy of base. Empty fields are left unset so
// preset values in base survive.
func Encode(base Metadata, out Outbound) Metadata {
	md := base.cloneWithExtra(10)
	setIfPresent(md, KeyContentType, out.ContentType)
	if out.ContentType != "" {
		md[KeyContentEncoding] = ContentEncodingUTF8
	}
	setIfPresent(md, KeyCorrelationID, out.CorrelationID)
	setIfPresent(md, KeyReplyTo, out.ReplyTo)
	setIfPresent(md, HeaderRequestType, out.RequestType)
	setIfPresent(md, HeaderAccessToken, out.AccessToken)
	if out.Timeout > 0 {
		md[HeaderTimeout] = FormatMilliseconds(out.Timeout)
	}
	if out.Expiration > 0 {
		md[KeyExpiration] = FormatMilliseconds(out.Expiration)
	}
	setIfPresent(md, HeaderTelemetryOperationID, out.Trace.OperationID)
	setIfPresent(md, HeaderTelemetryParentID, out.Trace.ParentID)
	setIfPresent(md, HeaderTelemetrySource, out.Trace.Source)
	return md
}

// Decode extracts the logical fields from md. Only a malformed Timeout header
// is an error; presence checks are left to the caller.
func Decode(md Metadata) (Inbound, error) {
	in := Inbound{
		ContentType:     md[KeyContentType],
		ContentEncoding: md[KeyContentEncoding],
		CorrelationID:   md[KeyCorrelationID],
		ReplyTo:         md[KeyReplyTo],
		RequestType:     md[HeaderRequestType],
		AccessToken:     md[HeaderAccessToken],
		Trace: TraceHeaders{
			OperationID: md[HeaderTelemetryOperationID],
			ParentID:    md[HeaderTelemetryParentID],
			Source:      md[HeaderTelemetrySource],
		},
	}

	if raw, ok := md[HeaderTimeout]; ok && raw != "" {
		timeout, err := ParseMilliseconds(raw)
		if err != nil || timeout <= 0 {
			return in, fmt.Errorf("%w: %q", errspkg.ErrInvalidTimeout, raw)
		}
		in.Timeout = timeout
	}
	if raw, ok := md[KeyExpiration]; ok && raw != "" {
		if expiration, err := ParseMilliseconds(raw); err == nil {
			in.Expiration = expiration
		}
	}
	return in, nil
}

// ContentMismatchError reports which content field disagreed. It matches
// errors.ErrContentMismatch.
type ContentMismatchError struct {
	Field    string
	Expected string
}

func (e *ContentMismatchError) Error() string {
	return e.Field + " != " + e.Expected
}

func (e *ContentMismatchError) Unwrap() error {
	return errspkg.ErrContentMismatch
}

// CheckContent verifies that md declares contentType and, when an encoding is
// present, that it is UTF-8. Media type parameters are ignored except for a
// charset, which counts as the encoding.
func CheckContent(md Metadata, contentType string) error {
	declared, ok := md[KeyContentType]
	if !ok {
		return &ContentMismatchError{Field: "ContentType", Expected: contentType}
	}
	got := contenttype.NewMediaType(declared)
	want := contenttype.NewMediaType(contentType)
	if got.Type == "" || got.Type != want.Type || got.Subtype != want.Subtype {
		return &ContentMismatchError{Field: "ContentType", Expected: contentType}
	}
	encoding, ok := md[KeyContentEncoding]
	if !ok {
		encoding, ok = got.Parameters["charset"]
	}
	if ok && !strings.EqualFold(encoding, ContentEncodingUTF8) {
		return &ContentMismatchError{Field: "ContentEncoding", Expected: ContentEncodingUTF8}
	}
	return nil
}

// maxMilliseconds is the largest millisecond count a time.Duration holds.
const maxMilliseconds = math.MaxInt64 / int64(time.Millisecond)

// FormatMilliseconds renders d as a decimal millisecond count. A partial
// millisecond rounds up, so a positive duration never renders as "0".
func FormatMilliseconds(d time.Duration) string {
	ms := d.Milliseconds()
	if d > 0 && d%time.Millisecond != 0 && ms < maxMilliseconds {
		ms++
	}
	return strconv.FormatInt(ms, 10)
}

// ParseMilliseconds parses a decimal millisecond count. Counts outside the
// range of time.Duration are rejected.
func ParseMilliseconds(raw string) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if ms > maxMilliseconds || ms < -maxMilliseconds {
		return 0, fmt.Errorf("%d milliseconds out of range", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func setIfPresent(md Metadata, key, value string) {
	if value != "" {
		md[key] = value
	}
}
