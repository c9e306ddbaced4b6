package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Kind classifies an error for the transport layer.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindValidation   Kind = "validation_error"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal_error"
)

var (
	ErrPollNotFound     = errors.New("poll not found")
	ErrOptionNotFound   = errors.New("option not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrPollInactive     = errors.New("poll is not accepting votes")
	ErrInvalidOption    = errors.New("option does not belong to this poll")
	ErrPollHasVotes     = errors.New("poll already has votes")
	ErrPollClosed       = errors.New("poll has been closed")
	ErrDuplicateVote    = errors.New("user has already voted on this poll")
	ErrEmailTaken       = errors.New("email is already registered")
	ErrForbidden        = errors.New("not allowed to manage this poll")
	ErrCampusRestricted = errors.New("poll is restricted to another campus")
	ErrBadCredentials   = errors.New("invalid email or password")
)

var kinds = map[error]Kind{
	ErrPollNotFound:     KindNotFound,
	ErrOptionNotFound:   KindNotFound,
	ErrUserNotFound:     KindNotFound,
	ErrPollInactive:     KindInvalidState,
	ErrInvalidOption:    KindInvalidState,
	ErrPollHasVotes:     KindInvalidState,
	ErrPollClosed:       KindInvalidState,
	ErrDuplicateVote:    KindConflict,
	ErrEmailTaken:       KindConflict,
	ErrForbidden:        KindForbidden,
	ErrCampusRestricted: KindForbidden,
	ErrBadCredentials:   KindUnauthorized,
}

// ValidationError lists the fields of an input that were rejected.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// KindOf maps any error returned by this package to its Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
