package assistant

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknownDatabase   Kind = "unknown_database"
	KindInvalidInput      Kind = "invalid_input"
	KindConnectionFailure Kind = "connection_failure"
	KindEmptySchema       Kind = "empty_schema"
	KindGenerationFailure Kind = "generation_failure"
	KindExecutionFailure  Kind = "execution_failure"
)

var (
	ErrQuestionRequired = errors.New("question is required")
	ErrSQLRequired      = errors.New("sql is required")
	ErrSQLNotAllowed    = errors.New("only a single SELECT or WITH statement may be run")
)

// Error classifies a pipeline failure by the stage that produced it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func fail(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}
