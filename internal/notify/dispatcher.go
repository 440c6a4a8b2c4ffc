package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"woprnotify/internal/a2a"
	logx "woprnotify/pkg/logx"
)

// Logger is the log capability a Dispatcher writes to. logx.Logger satisfies it.
type Logger interface {
	Info(msg string, fields ...logx.Field)
	Warn(msg string, fields ...logx.Field)
	Error(msg string, fields ...logx.Field)
}

// Emitter is the event capability a Dispatcher emits to.
type Emitter interface {
	EmitCustom(ctx context.Context, typ string, payload any) error
}

// Dispatcher is stateless; one value may serve concurrent requests.
type Dispatcher struct {
	log    Logger
	events Emitter
}

func NewDispatcher(log Logger, events Emitter) *Dispatcher {
	return &Dispatcher{log: log, events: events}
}

// Dispatch logs the message, emits EventSend and returns the confirmation.
//
// The log line is written before the emit and is not undone when the emit
// fails or ctx is cancelled. Emit errors are returned unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (a2a.Result, error) {
	if req.Message == nil {
		return a2a.Result{}, fmt.Errorf("%w: message is required", ErrInvalidArgument)
	}
	message := *req.Message
	level := DefaultLevel
	if req.Level != nil {
		level = *req.Level
	}

	line := "[NOTIFY] " + message
	switch SeverityFor(level) {
	case SeverityError:
		d.log.Error(line)
	case SeverityWarn:
		d.log.Warn(line)
	default:
		d.log.Info(line)
	}

	if err := d.events.EmitCustom(ctx, EventSend, Payload{
		Message: message,
		Level:   level,
		Channel: req.Channel,
	}); err != nil {
		return a2a.Result{}, err
	}

	return a2a.TextResult(Confirmation(level, message)), nil
}

// DispatchArgs decodes a raw tool-call argument object and dispatches it.
func (d *Dispatcher) DispatchArgs(ctx context.Context, args json.RawMessage) (a2a.Result, error) {
	req, err := DecodeRequest(args)
	if err != nil {
		return a2a.Result{}, err
	}
	return d.Dispatch(ctx, req)
}

// Confirmation formats the text returned to the caller.
func Confirmation(level, message string) string {
	return "Notification sent: [" + strings.ToUpper(level) + "] " + message
}
