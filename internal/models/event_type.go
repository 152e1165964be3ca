package models

import (
	"fmt"
	"strings"
)

// EventType classifies a structured trace event. Its String form is the
// category written for the entry.
type EventType int

const (
	EventCritical EventType = 1 << iota
	EventError
	EventWarning
	EventInformation
	EventVerbose
)

const (
	EventStart EventType = 1 << (iota + 8)
	EventStop
	EventSuspend
	EventResume
	EventTransfer
)

var eventTypeNames = map[EventType]string{
	EventCritical:    "Critical",
	EventError:       "Error",
	EventWarning:     "Warning",
	EventInformation: "Information",
	EventVerbose:     "Verbose",
	EventStart:       "Start",
	EventStop:        "Stop",
	EventSuspend:     "Suspend",
	EventResume:      "Resume",
	EventTransfer:    "Transfer",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType resolves a case-insensitive event type name.
func ParseEventType(name string) (EventType, error) {
	for t, n := range eventTypeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}
