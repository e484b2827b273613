package channel

import (
	"context"

	"archcritic/pkg/bus"
)

// Handler processes one inbound channel message and returns an outbound reply.
type Handler func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error)

// Adapter bridges one external transport (for example Telegram) into the bot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// StatusReporter shows an interim progress line to the user while a handler is still working.
// Adapters that support it later replace that line with the final reply.
type StatusReporter func(ctx context.Context, text string) error

type statusReporterKey struct{}

// WithStatusReporter returns a child context carrying reporter.
func WithStatusReporter(ctx context.Context, reporter StatusReporter) context.Context {
	if reporter == nil {
		return ctx
	}

	return context.WithValue(ctx, statusReporterKey{}, reporter)
}

// ReportStatus forwards text to the reporter stored in ctx. It is a no-op when none is set.
func ReportStatus(ctx context.Context, text string) error {
	if ctx == nil {
		return nil
	}

	reporter, ok := ctx.Value(statusReporterKey{}).(StatusReporter)
	if !ok || reporter == nil {
		return nil
	}

	return reporter(ctx, text)
}
