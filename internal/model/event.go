package model

import (
	"fmt"
	"time"
)

// EventKind enumerates the normalized system signals the engine observes.
type EventKind string

const (
	KindPowerConnected      EventKind = "PowerConnected"
	KindPowerDisconnected   EventKind = "PowerDisconnected"
	KindScreenOn            EventKind = "ScreenOn"
	KindScreenOff           EventKind = "ScreenOff"
	KindBatteryChanged      EventKind = "BatteryChanged"
	KindNotificationPosted  EventKind = "NotificationPosted"
	KindNotificationRemoved EventKind = "NotificationRemoved"
)

// AllKinds lists every EventKind in declaration order.
var AllKinds = []EventKind{
	KindPowerConnected,
	KindPowerDisconnected,
	KindScreenOn,
	KindScreenOff,
	KindBatteryChanged,
	KindNotificationPosted,
	KindNotificationRemoved,
}

// Valid reports whether k is one of the enumerated kinds.
func (k EventKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsNotification reports whether events of this kind carry a source package.
func (k EventKind) IsNotification() bool {
	return k == KindNotificationPosted || k == KindNotificationRemoved
}

// ParseEventKind converts a kind name into an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// Event is a normalized system signal. Immutable once produced.
type Event struct {
	ID            string    `json:"id"`
	Kind          EventKind `json:"kind"`
	SourcePackage string    `json:"source_package,omitempty"`
	Payload       []byte    `json:"payload,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RawSignal is what the host-event layer hands to the adapter before
// normalization. Action uses the host's broadcast vocabulary.
type RawSignal struct {
	Action    string    `json:"action"`
	Package   string    `json:"package,omitempty"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ExecutionRequest instructs the orchestrator to start one workflow.
// RunID is optional; an empty value asks the orchestrator to generate one.
type ExecutionRequest struct {
	WorkflowID string
	RunID      string
	Event      Event
}
