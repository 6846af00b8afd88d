package amqp

import (
	"context"

	"pairxpenses/internal/log"
)

// Handler processes decoded ledger events.
type Handler interface {
	HandleReportGenerated(ctx context.Context, msg *ReportGeneratedMessage) error
	HandlePeriodReset(ctx context.Context, msg *PeriodResetMessage) error
}

// Outcome is what the consumer does with a delivery.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRequeue
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRequeue:
		return "requeue"
	default:
		return "reject"
	}
}

// Dispatch decodes body by eventType and calls h. Malformed or unknown
// messages are rejected; handler errors are requeued.
func Dispatch(ctx context.Context, h Handler, eventType string, body []byte, logger *log.Logger) Outcome {
	if logger == nil {
		logger = log.Nop()
	}
	var (
		id  string
		err error
	)
	switch eventType {
	case EventReportGenerated:
		msg, derr := ReportGeneratedMessageFromJSON(body)
		if derr != nil {
			logger.ErrorContext(ctx, "Failed to unmarshal message", "type", eventType, "error", derr)
			return OutcomeReject
		}
		id = msg.ID
		err = h.HandleReportGenerated(ctx, msg)
	case EventPeriodReset:
		msg, derr := PeriodResetMessageFromJSON(body)
		if derr != nil {
			logger.ErrorContext(ctx, "Failed to unmarshal message", "type", eventType, "error", derr)
			return OutcomeReject
		}
		id = msg.ID
		err = h.HandlePeriodReset(ctx, msg)
	default:
		logger.WarnContext(ctx, "Unknown event type", "type", eventType)
		return OutcomeReject
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to handle message", "type", eventType, log.FieldMessageID, id, "error", err)
		return OutcomeRequeue
	}
	logger.InfoContext(ctx, "Processed message", "type", eventType, log.FieldMessageID, id)
	return OutcomeAck
}

// HandlerFuncs adapts two functions to Handler. Nil fields ack without work.
type HandlerFuncs struct {
	OnReport func(context.Context, *ReportGeneratedMessage) error
	OnReset  func(context.Context, *PeriodResetMessage) error
}

func (f HandlerFuncs) HandleReportGenerated(ctx context.Context, m *ReportGeneratedMessage) error {
	if f.OnReport == nil {
		return nil
	}
	return f.OnReport(ctx, m)
}

func (f HandlerFuncs) HandlePeriodReset(ctx context.Context, m *PeriodResetMessage) error {
	if f.OnReset == nil {
		return nil
	}
	return f.OnReset(ctx, m)
}

var _ Handler = HandlerFuncs{}
