// Package source turns raw host signals into normalized events.
package source

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/autokit/internal/model"
)

// Host action vocabulary.
const (
	ActionPowerConnected      = "android.intent.action.ACTION_POWER_CONNECTED"
	ActionPowerDisconnected   = "android.intent.action.ACTION_POWER_DISCONNECTED"
	ActionScreenOn            = "android.intent.action.SCREEN_ON"
	ActionScreenOff           = "android.intent.action.SCREEN_OFF"
	ActionBatteryChanged      = "android.intent.action.BATTERY_CHANGED"
	ActionNotificationPosted  = "notification.posted"
	ActionNotificationRemoved = "notification.removed"
)

// ActionWorkflowsChanged tells a running engine that stored workflows
// changed. It is a control signal and never normalizes to an Event.
const ActionWorkflowsChanged = "autokit.workflows.changed"

var actionKinds = map[string]model.EventKind{
	ActionPowerConnected:      model.KindPowerConnected,
	ActionPowerDisconnected:   model.KindPowerDisconnected,
	ActionScreenOn:            model.KindScreenOn,
	ActionScreenOff:           model.KindScreenOff,
	ActionBatteryChanged:      model.KindBatteryChanged,
	ActionNotificationPosted:  model.KindNotificationPosted,
	ActionNotificationRemoved: model.KindNotificationRemoved,

	// Broadcasts sometimes arrive without the ACTION_ infix.
	"android.intent.action.POWER_CONNECTED":    model.KindPowerConnected,
	"android.intent.action.POWER_DISCONNECTED": model.KindPowerDisconnected,

	"power_connected":      model.KindPowerConnected,
	"power_disconnected":   model.KindPowerDisconnected,
	"screen_on":            model.KindScreenOn,
	"screen_off":           model.KindScreenOff,
	"battery_changed":      model.KindBatteryChanged,
	"notification_posted":  model.KindNotificationPosted,
	"notification_removed": model.KindNotificationRemoved,
}

// KindForAction resolves a raw action, alias, or kind name.
func KindForAction(action string) (model.EventKind, bool) {
	a := strings.TrimSpace(action)
	if k, ok := actionKinds[a]; ok {
		return k, true
	}
	if k, ok := actionKinds[strings.ToLower(a)]; ok {
		return k, true
	}
	if k := model.EventKind(a); k.Valid() {
		return k, true
	}
	return "", false
}

// ActionForKind returns the canonical host action for k.
func ActionForKind(k model.EventKind) string {
	switch k {
	case model.KindPowerConnected:
		return ActionPowerConnected
	case model.KindPowerDisconnected:
		return ActionPowerDisconnected
	case model.KindScreenOn:
		return ActionScreenOn
	case model.KindScreenOff:
		return ActionScreenOff
	case model.KindBatteryChanged:
		return ActionBatteryChanged
	case model.KindNotificationPosted:
		return ActionNotificationPosted
	case model.KindNotificationRemoved:
		return ActionNotificationRemoved
	}
	return ""
}

type notificationPayload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Normalize maps a raw signal onto an Event. It assigns no ID and keeps the
// raw timestamp as given. Unrecognized or incomplete signals yield a
// MalformedEventError.
func Normalize(raw model.RawSignal) (model.Event, error) {
	kind, ok := KindForAction(raw.Action)
	if !ok {
		return model.Event{}, model.NewMalformedEventError(raw.Action, "unrecognized action")
	}

	ev := model.Event{Kind: kind, Timestamp: raw.Timestamp}
	if !kind.IsNotification() {
		return ev, nil
	}

	pkg := strings.TrimSpace(raw.Package)
	if pkg == "" {
		return model.Event{}, model.NewMalformedEventError(raw.Action, "notification without source package")
	}
	ev.SourcePackage = pkg

	if kind == model.KindNotificationPosted {
		payload, err := json.Marshal(notificationPayload{
			Title: norm.NFC.String(raw.Title),
			Text:  norm.NFC.String(raw.Text),
		})
		if err != nil {
			return model.Event{}, model.NewMalformedEventError(raw.Action, err.Error())
		}
		ev.Payload = payload
	}
	return ev, nil
}
