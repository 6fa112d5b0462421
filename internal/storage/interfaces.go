// Package storage persists accepted modal submissions.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Record is one accepted form submission.
type Record struct {
	ID string

	// SubmissionID is the platform's id for the submission. A redelivered
	// submission carries the same id and is rejected with ErrAlreadyExists.
	SubmissionID string
	CallbackID   string
	Team         string
	User         string
	Values       map[string]string
	CreatedAt    time.Time
}

// SubmissionStore persists records.
type SubmissionStore interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	ListByUser(ctx context.Context, user string, limit int) ([]*Record, error)
	Close() error
}

// DefaultListLimit caps ListByUser when limit is not positive.
const DefaultListLimit = 50

func validate(rec *Record) error {
	if rec == nil {
		return errors.New("record is required")
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	if rec.SubmissionID == "" {
		return errors.New("submission id is required")
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func cloneRecord(rec *Record) *Record {
	out := *rec
	if rec.Values != nil {
		out.Values = make(map[string]string, len(rec.Values))
		for k, v := range rec.Values {
			out.Values[k] = v
		}
	}
	return &out
}
