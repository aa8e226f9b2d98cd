package monitor

import "context"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(ctx context.Context, message string) bool
}
