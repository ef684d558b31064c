package runtime

import (
	"fmt"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

// ReplyStatus is the outcome code carried in every reply body.
type ReplyStatus int

const (
	StatusSuccess      ReplyStatus = 0
	StatusFail         ReplyStatus = -1
	StatusUnauthorized ReplyStatus = -2
	StatusForbidden    ReplyStatus = -3
)

func (s ReplyStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusFail:
		return "Fail"
	case StatusUnauthorized:
		return "Unauthorized"
	case StatusForbidden:
		return "Forbidden"
	default:
		return fmt.Sprintf("ReplyStatus(%d)", int(s))
	}
}

func (s ReplyStatus) telemetryStatus() telemetry.Status {
	switch s {
	case StatusSuccess:
		return telemetry.StatusSuccess
	case StatusUnauthorized:
		return telemetry.StatusUnauthorized
	case StatusForbidden:
		return telemetry.StatusForbidden
	default:
		return telemetry.StatusFail
	}
}

// Reply is the status envelope every reply type embeds:
//
//	type Pong struct {
//		traceflow.Reply `yaml:",inline"`
//		Message string
//	}
type Reply struct {
	Status       ReplyStatus `json:"Status" yaml:"Status"`
	ErrorMessage string      `json:"ErrorMessage,omitempty" yaml:"ErrorMessage,omitempty"`
}

// Replier is implemented by Reply and every type that embeds it.
type Replier interface {
	ReplyStatus() ReplyStatus
	ReplyErrorMessage() string
}

func (r Reply) ReplyStatus() ReplyStatus   { return r.Status }
func (r Reply) ReplyErrorMessage() string { return r.ErrorMessage }

// Succeeded is a Success reply.
func Succeeded() Reply { return Reply{Status: StatusSuccess} }

// Failed builds a reply whose status matches the kind of err: Unauthorized
// and Forbidden are kept, anything else becomes Fail.
func Failed(err error) Reply {
	if err == nil {
		return Reply{Status: StatusFail}
	}
	status := StatusFail
	switch errspkg.KindOf(err) {
	case errspkg.ErrUnauthorized:
		status = StatusUnauthorized
	case errspkg.ErrForbidden:
		status = StatusForbidden
	}
	return Reply{Status: status, ErrorMessage: err.Error()}
}

// replyError translates a received reply into the error its status stands for.
func replyError(r Replier) error {
	switch r.ReplyStatus() {
	case StatusSuccess:
		return nil
	case StatusFail:
		return errspkg.RequestFailure("Remote call failure: %s", r.ReplyErrorMessage())
	case StatusUnauthorized:
		return errspkg.Unauthorized("Unauthorized for remote call: %s", r.ReplyErrorMessage())
	case StatusForbidden:
		return errspkg.Forbidden("Forbidden access to remote service: %s", r.ReplyErrorMessage())
	default:
		return errspkg.InvalidReply(nil, "Reply status %d is unknown", int(r.ReplyStatus()))
	}
}
