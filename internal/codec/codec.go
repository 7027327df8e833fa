// Package codec decodes incoming broker frames into task.IncomingMessage and
// serializes task.TaskCallback records, per spec §4.A.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/taskworker/internal/task"
)

// ErrorKindDecode is the HandlerOutcome-style error kind used when a delivery
// cannot be decoded at all (spec §7, §8 scenario 6).
const ErrorKindDecode = "decode"

// DecodeError is a permanent, per-delivery decode failure. It never
// represents a transport problem — the delivery is still nacked without
// requeue by the caller.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode: " + e.Reason }

// Headers carries the subset of AMQP delivery metadata the codec consults.
// task_id is preferred from Headers["task_id"] over the body field of the
// same name (spec §4.A).
type Headers struct {
	TaskID        string
	CorrelationID string
	ReplyTo       string
}

// FallbackCorrelationID returns id unchanged if set, otherwise a freshly
// generated uuid — used both for decoded messages and for the failure
// callback published when a delivery can't be decoded at all.
func FallbackCorrelationID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// Decode parses a UTF-8 JSON object body into an IncomingMessage. A non-object
// root, invalid JSON, or a missing task_id (in both header and body) produces
// a *DecodeError.
func Decode(body []byte, hdr Headers, deliveryTag uint64, redelivered bool) (*task.IncomingMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("body is not a JSON object: %v", err)}
	}

	taskID := hdr.TaskID
	if taskID == "" {
		if v, ok := raw["task_id"]; ok {
			if s, ok := v.(string); ok {
				taskID = s
			}
		}
	}
	if taskID == "" {
		return nil, &DecodeError{Reason: "task_id missing from both header and body"}
	}

	var submission *time.Time
	if v, ok := raw["submission_date"]; ok {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				submission = &t
			}
		}
	}

	correlationID := FallbackCorrelationID(hdr.CorrelationID)

	return &task.IncomingMessage{
		TaskID:         taskID,
		Body:           raw,
		SubmissionDate: submission,
		CorrelationID:  correlationID,
		ReplyTo:        hdr.ReplyTo,
		DeliveryTag:    deliveryTag,
		Redelivered:    redelivered,
	}, nil
}

// wireCallback mirrors task.TaskCallback field-for-field but lets us control
// omission precisely: every optional field is omitted when absent except
// response, which is emitted as a JSON null per spec §4.A.
type wireCallback struct {
	TaskID         string     `json:"task_id"`
	Status         task.Status `json:"status"`
	SubmissionDate *time.Time `json:"submission_date,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Progress       *float64   `json:"progress,omitempty"`
	Response       any        `json:"response"`
}

// Encode serializes a TaskCallback to its wire JSON form.
func Encode(cb task.TaskCallback) ([]byte, error) {
	w := wireCallback{
		TaskID:         cb.TaskID,
		Status:         cb.Status,
		SubmissionDate: cb.SubmissionDate,
		StartDate:      cb.StartDate,
		EndDate:        cb.EndDate,
		Progress:       cb.Progress,
		Response:       cb.Response,
	}
	return json.Marshal(w)
}

// DecodeCallback reverses Encode, used by tests asserting round-trip
// idempotence (spec §8).
func DecodeCallback(data []byte) (task.TaskCallback, error) {
	var w wireCallback
	if err := json.Unmarshal(data, &w); err != nil {
		return task.TaskCallback{}, err
	}
	return task.TaskCallback{
		TaskID:         w.TaskID,
		Status:         w.Status,
		SubmissionDate: w.SubmissionDate,
		StartDate:      w.StartDate,
		EndDate:        w.EndDate,
		Progress:       w.Progress,
		Response:       w.Response,
	}, nil
}
