package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrStoreClosed = errors.New("vector store closed")

// EmbeddingError indicates that the embedding backend failed to produce a vector.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("embedding failed: %v", e.Err)
	}

	return fmt.Sprintf("embedding failed (model %s): %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ConfigError indicates an invalid chunking, dimension or backend configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// InvalidVectorError indicates a zero-norm or malformed embedding.
type InvalidVectorError struct {
	ID     string
	Reason string
}

func (e *InvalidVectorError) Error() string {
	if e.ID == "" {
		return "invalid vector: " + e.Reason
	}

	return fmt.Sprintf("invalid vector %s: %s", e.ID, e.Reason)
}

// DimensionMismatchError indicates a vector whose length differs from the store dimension.
type DimensionMismatchError struct {
	ID       string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	msg := fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
	if e.ID != "" {
		msg += " (record " + e.ID + ")"
	}

	return msg
}

type RecordFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

func (f RecordFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}

	return json.Marshal(struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}{f.ID, msg})
}

func (f *RecordFailure) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.ID = raw.ID
	if raw.Error != "" {
		f.Err = errors.New(raw.Error)
	}

	return nil
}

// PartialUpsertError lists the records of an upsert that were not committed.
// Records not listed were stored.
type PartialUpsertError struct {
	Failures []RecordFailure
}

func (e *PartialUpsertError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ID
	}

	msg := fmt.Sprintf("upsert failed for %d record(s): %s", len(e.Failures), strings.Join(ids, ", "))
	if len(e.Failures) > 0 && e.Failures[0].Err != nil {
		msg += ": " + e.Failures[0].Err.Error()
	}

	return msg
}

func (e *PartialUpsertError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}

	return errs
}

func (e *PartialUpsertError) FailedIDs() []string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ID
	}

	return ids
}

// TimeoutError indicates that a backend call exceeded its per-call timeout.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// InvalidArgumentError indicates a bad caller argument such as k <= 0.
type InvalidArgumentError struct {
	Name   string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Name, e.Reason)
}

// IsPermanent reports whether retrying the same record can never succeed.
func IsPermanent(err error) bool {
	switch err.(type) {
	case *InvalidVectorError, *DimensionMismatchError, *InvalidArgumentError, *ConfigError:
		return true
	}

	return false
}
