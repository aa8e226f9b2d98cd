// Package notify delivers human-readable bot events to operators.
package notify

import (
	"context"
	"log"
	"strings"
)

// Notifier sends one text message. It reports false when delivery failed.
type Notifier interface {
	Send(ctx context.Context, text string) bool
}

// LogNotifier writes messages to the process log.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, text string) bool {
	log.Printf("[notify] %s", stripTags(text))
	return true
}

// Multi fans a message out to every notifier. It reports false if any failed.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, text string) bool {
	ok := true
	for _, n := range m {
		if n == nil {
			continue
		}
		if !n.Send(ctx, text) {
			ok = false
		}
	}
	return ok
}

var tagReplacer = strings.NewReplacer("<b>", "", "</b>", "", "<i>", "", "</i>", "", "<code>", "", "</code>", "", "\n", " | ")

func stripTags(s string) string {
	return tagReplacer.Replace(s)
}
