package charm

import (
	"fmt"
	"strings"
)

// EventKind is a lifecycle event the charm reacts to.
type EventKind int

const (
	// EventUnhandled is any hook or action without a handler.
	EventUnhandled EventKind = iota
	EventInstall
	EventRemove
	EventUpgrade
)

// handledEvents are the events with a dispatch path of their own.
var handledEvents = []EventKind{EventInstall, EventRemove, EventUpgrade}

var eventNames = map[EventKind]string{
	EventUnhandled: "unhandled",
	EventInstall:   "install",
	EventRemove:    "remove",
	EventUpgrade:   "upgrade",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// IsAction reports whether the event is an operator-invoked action.
func (k EventKind) IsAction() bool {
	return k == EventUpgrade
}

// DispatchPath returns the JUJU_DISPATCH_PATH that triggers the event.
func (k EventKind) DispatchPath() string {
	switch k {
	case EventInstall:
		return "hooks/install"
	case EventRemove:
		return "hooks/remove"
	case EventUpgrade:
		return "actions/upgrade"
	default:
		return ""
	}
}

// ParseEventKind maps an event name back onto its kind.
func ParseEventKind(name string) (EventKind, error) {
	for k, n := range eventNames {
		if n == name && k != EventUnhandled {
			return k, nil
		}
	}
	return EventUnhandled, fmt.Errorf("unknown event %q", name)
}

// ParseDispatchPath maps a dispatch path such as "hooks/install" or
// "actions/upgrade" onto an event. Well-formed paths without a handler
// yield EventUnhandled.
func ParseDispatchPath(path string) (EventKind, error) {
	dir, name, ok := strings.Cut(strings.Trim(path, "/"), "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return EventUnhandled, fmt.Errorf("invalid dispatch path %q", path)
	}

	if dir != "hooks" && dir != "actions" {
		return EventUnhandled, fmt.Errorf("invalid dispatch path %q: expected hooks/ or actions/", path)
	}

	for _, k := range handledEvents {
		if k.DispatchPath() == dir+"/"+name {
			return k, nil
		}
	}
	return EventUnhandled, nil
}
