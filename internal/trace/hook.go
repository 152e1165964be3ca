package trace

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/dbtrace/internal/models"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// Hook forwards records from a host logrus logger into a Listener.
// Records carrying an "event_id" field become structured trace events whose
// source is the "component" field; everything else becomes a categorized
// write using the level name. Records from the sink's diagnostic channel are
// never forwarded.
type Hook struct {
	listener *Listener
	levels   []logrus.Level
}

// NewHook creates a hook firing for levels at or above minLevel.
func NewHook(listener *Listener, minLevel logrus.Level) *Hook {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, lvl := range logrus.AllLevels {
		if lvl <= minLevel {
			levels = append(levels, lvl)
		}
	}
	return &Hook{listener: listener, levels: levels}
}

// Levels implements logrus.Hook.
func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook. It never returns an error so a sink problem
// cannot surface in the host's logging call.
func (h *Hook) Fire(e *logrus.Entry) error {
	component, _ := e.Data["component"].(string)
	if component == utils.DiagnosticComponent {
		return nil
	}

	if id, ok := eventID(e.Data["event_id"]); ok {
		h.listener.TraceEvent(EventCache{Time: e.Time}, component, LevelEventType(e.Level), id, e.Message)
		return nil
	}

	h.listener.WriteCategory(e.Message, e.Level.String())
	return nil
}

// LevelEventType maps a logrus level onto a trace event type.
func LevelEventType(level logrus.Level) models.EventType {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return models.EventCritical
	case logrus.ErrorLevel:
		return models.EventError
	case logrus.WarnLevel:
		return models.EventWarning
	case logrus.InfoLevel:
		return models.EventInformation
	default:
		return models.EventVerbose
	}
}

// eventID accepts integer event ids that fit the 32-bit EventId column.
// Anything else leaves the record a plain write.
func eventID(v interface{}) (int, bool) {
	var id int64
	switch n := v.(type) {
	case int:
		id = int64(n)
	case int32:
		id = int64(n)
	case int64:
		id = n
	case uint16:
		id = int64(n)
	case uint32:
		id = int64(n)
	default:
		return 0, false
	}
	if id > math.MaxInt32 || id < math.MinInt32 {
		return 0, false
	}
	return int(id), true
}
