// Package hostid identifies the machine a bot instance runs on.
package hostid

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

// ID returns an app-scoped hash of the machine id, so the raw id never
// leaves the host. Falls back to the hostname when the id is unreadable
// (containers without /etc/machine-id).
func ID(app string) string {
	if id, err := machineid.ProtectedID(app); err == nil && id != "" {
		return id[:16]
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}
