package negotiation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound   = errors.New("negotiation: not found")
	ErrValidation = errors.New("negotiation: invalid request")

	// errUnchanged is returned from an update func to leave the record as is.
	errUnchanged = errors.New("negotiation: unchanged")
)

// ValidationError rejects a request before any record is created.
// Fields maps the offending request field to its message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid request"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a lookup or webhook for an unknown negotiation id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return "negotiation id missing"
	}
	return fmt.Sprintf("negotiation %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
