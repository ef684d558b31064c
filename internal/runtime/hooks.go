package runtime

import (
	"time"

	loggingpkg "github.com/drblury/traceflow/internal/runtime/logging"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

// CallInfo describes a remote call to hooks.
type CallInfo struct {
	// Server is the name of the server handling the call.
	Server        string
	CorrelationID string
	RequestType   string
	ReplyTo       string
	// Timeout is the deadline the call was armed with.
	Timeout time.Duration
	// ReceivedAt is when the request arrived.
	ReceivedAt time.Time
	// Duration is only set in OnCallDone.
	Duration time.Duration
	// Status is only set in OnCallDone.
	Status telemetry.Status
}

// CallHooks defines callbacks for remote call lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type CallHooks struct {
	// OnCallStart is called once the call is registered, before the inbound
	// checks run.
	OnCallStart func(info CallInfo)

	// OnCallDone is called exactly once per call, from the path that
	// terminated it. Status tells how it ended.
	OnCallDone func(info CallInfo)

	// OnCallRejected is called when a request cannot become a call at all,
	// for example because it has no correlation id.
	OnCallRejected func(info CallInfo, err error)
}

// Merge combines two CallHooks, creating a new CallHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h CallHooks) Merge(other CallHooks) CallHooks {
	return CallHooks{
		OnCallStart:    chainInfoHooks(h.OnCallStart, other.OnCallStart),
		OnCallDone:     chainInfoHooks(h.OnCallDone, other.OnCallDone),
		OnCallRejected: chainRejectedHooks(h.OnCallRejected, other.OnCallRejected),
	}
}

func (h CallHooks) callStart(info CallInfo) {
	if h.OnCallStart != nil {
		h.OnCallStart(info)
	}
}

func (h CallHooks) callDone(info CallInfo) {
	if h.OnCallDone != nil {
		h.OnCallDone(info)
	}
}

func (h CallHooks) callRejected(info CallInfo, err error) {
	if h.OnCallRejected != nil {
		h.OnCallRejected(info, err)
	}
}

func chainInfoHooks(a, b func(CallInfo)) func(CallInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info CallInfo) {
		a(info)
		b(info)
	}
}

func chainRejectedHooks(a, b func(CallInfo, error)) func(CallInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info CallInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

// LoggingHooks returns pre-built hooks that log call lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) CallHooks {
	return CallHooks{
		OnCallStart: func(info CallInfo) {
			logger.Debug("Call started", callLogFields(info))
		},
		OnCallDone: func(info CallInfo) {
			fields := callLogFields(info).With(loggingpkg.LogFields{
				loggingpkg.FieldStatus:     string(info.Status),
				loggingpkg.FieldDurationMS: info.Duration.Milliseconds(),
			})
			if info.Status == telemetry.StatusTimeout {
				logger.Info("Call timed out", fields)
				return
			}
			logger.Debug("Call completed", fields)
		},
		OnCallRejected: func(info CallInfo, err error) {
			logger.Info("Request rejected", callLogFields(info).With(loggingpkg.LogFields{"error": err.Error()}))
		},
	}
}

// MetricsHooks returns hooks that record call outcomes on m.
func MetricsHooks(m *RPCMetrics) CallHooks {
	if m == nil {
		return CallHooks{}
	}
	return CallHooks{
		OnCallStart: func(info CallInfo) {
			m.callStarted(info.Server)
		},
		OnCallDone: func(info CallInfo) {
			m.callDone(info.Server, info.RequestType, info.Status, info.Duration)
		},
		OnCallRejected: func(info CallInfo, err error) {
			m.rejected(info.Server, err)
		},
	}
}

// AlertingHooks returns hooks that trigger alertFunc whenever a call does not
// end in Success.
func AlertingHooks(alertFunc func(info CallInfo)) CallHooks {
	return CallHooks{
		OnCallDone: func(info CallInfo) {
			if info.Status != telemetry.StatusSuccess {
				alertFunc(info)
			}
		},
	}
}

func callLogFields(info CallInfo) loggingpkg.LogFields {
	return loggingpkg.CallFields(info.CorrelationID, info.RequestType).With(loggingpkg.LogFields{
		"server":                info.Server,
		loggingpkg.FieldReplyTo: info.ReplyTo,
	})
}
