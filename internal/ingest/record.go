// Package ingest feeds log entries into a trace listener from sources outside
// the host process: followed files, an AMQP queue and JSON request bodies.
package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/smartdevs17/dbtrace/internal/models"
	"github.com/smartdevs17/dbtrace/internal/trace"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// Tracer is the subset of trace.Listener the feeders dispatch into.
type Tracer interface {
	TraceEvent(cache trace.EventCache, source string, eventType models.EventType, id int, message string)
	WriteCategory(message, category string)
}

// Record is the JSON shape accepted from queues and HTTP clients.
type Record struct {
	Time      time.Time `json:"time"`
	Source    *string   `json:"source"`
	EventType string    `json:"event_type"`
	EventID   *int      `json:"event_id"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
}

// Structured reports whether the record should become a trace event rather
// than a plain write.
func (r Record) Structured() bool {
	return r.EventID != nil || r.Source != nil
}

// DecodeRecord parses and validates a JSON record.
func DecodeRecord(body []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, utils.NewAppError(utils.ErrCodeValidation, "malformed log record", err.Error())
	}
	if rec.Message == "" {
		return Record{}, utils.NewAppError(utils.ErrCodeValidation, "log record message is required")
	}
	// EventId is a 32-bit column
	if rec.EventID != nil && (*rec.EventID > math.MaxInt32 || *rec.EventID < math.MinInt32) {
		return Record{}, utils.NewAppError(utils.ErrCodeValidation, "event_id out of range",
			fmt.Sprintf("%d does not fit in 32 bits", *rec.EventID))
	}
	if rec.EventType != "" {
		if _, err := models.ParseEventType(rec.EventType); err != nil {
			return Record{}, utils.NewAppError(utils.ErrCodeValidation, "invalid log record", err.Error())
		}
	}
	return rec, nil
}

// Dispatch hands a decoded record to tracer. Structured records default to
// the Information event type.
func Dispatch(tracer Tracer, rec Record) {
	if !rec.Structured() {
		tracer.WriteCategory(rec.Message, rec.Category)
		return
	}

	eventType := models.EventInformation
	if rec.EventType != "" {
		// validated by DecodeRecord
		eventType, _ = models.ParseEventType(rec.EventType)
	}
	var source string
	if rec.Source != nil {
		source = *rec.Source
	}
	var id int
	if rec.EventID != nil {
		id = *rec.EventID
	}
	tracer.TraceEvent(trace.EventCache{Time: rec.Time}, source, eventType, id, rec.Message)
}
