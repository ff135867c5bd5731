// Package audit records who ran which command and how it ended. Records never
// carry secrets. Sinks are a plain text file in the classic <LOG> format and a
// SQL table (Postgres or SQLite); Async puts either behind a buffered queue so
// command handling never waits on the audit trail.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Record struct {
	ID        string
	Time      time.Time
	SessionID string
	User      string
	Command   string
	Success   bool
	Message   string
}

// NewRecord stamps a record with a fresh id and the current time.
func NewRecord(sessionID, user, command string, success bool, message string) Record {
	return Record{
		ID:        uuid.NewString(),
		Time:      time.Now().UTC(),
		SessionID: sessionID,
		User:      user,
		Command:   command,
		Success:   success,
		Message:   message,
	}
}

type Recorder interface {
	Record(ctx context.Context, r Record) error
}

// batchRecorder is implemented by sinks that can store several records in one
// round trip.
type batchRecorder interface {
	RecordBatch(ctx context.Context, rs []Record) error
}

type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }

// Multi fans a record out to every sink and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, r Record) error {
	var errs []error
	for _, rec := range m {
		if err := rec.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
