package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies failures for the HTTP boundary.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindUnavailable
)

// AppError is a classified error with a client-safe message.
type AppError struct {
	Kind    ErrorKind
	Message string // safe to return to clients
	Err     error  // underlying cause, never sent to clients
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

type errorMapping struct {
	status int
	code   string
}

// errorTable is the single taxonomy-to-status table consulted by writeError.
var errorTable = map[ErrorKind]errorMapping{
	KindValidation:     {http.StatusBadRequest, "VALIDATION_ERROR"},
	KindAuthentication: {http.StatusUnauthorized, "UNAUTHORIZED"},
	KindAuthorization:  {http.StatusForbidden, "FORBIDDEN"},
	KindNotFound:       {http.StatusNotFound, "NOT_FOUND"},
	KindConflict:       {http.StatusConflict, "CONFLICT"},
	KindUnavailable:    {http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	KindInternal:       {http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
}

const internalErrorMessage = "internal server error"

// KindOf returns the kind of the first AppError in err's chain, KindInternal otherwise.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// statusFor resolves the HTTP status, code and client message for err.
func statusFor(err error) (int, string, string) {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Kind == KindInternal {
		m := errorTable[KindInternal]
		return m.status, m.code, internalErrorMessage
	}
	m, ok := errorTable[appErr.Kind]
	if !ok {
		m = errorTable[KindInternal]
		return m.status, m.code, internalErrorMessage
	}
	return m.status, m.code, appErr.Message
}

func validationError(format string, args ...any) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(resource string) *AppError {
	return &AppError{Kind: KindNotFound, Message: resource + " not found"}
}

var errDatabaseUnavailable = &AppError{Kind: KindUnavailable, Message: "database unavailable"}

// classifyStoreError maps pgx/pgconn failures onto the taxonomy.
// resource names the entity in client messages ("user", "benchmark").
func classifyStoreError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Kind: KindNotFound, Message: resource + " not found", Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &AppError{Kind: KindConflict, Message: resource + " already exists", Err: err}
		case "23503": // foreign_key_violation
			return &AppError{Kind: KindValidation, Message: "referenced record does not exist", Err: err}
		case "23502", "23514", "22P02", "22001": // not_null, check, invalid_text_representation, string_data_right_truncation
			return &AppError{Kind: KindValidation, Message: "invalid " + resource, Err: err}
		}
		return fmt.Errorf("%s query: %w", resource, err)
	}

	if isUnavailable(err) {
		return &AppError{Kind: KindUnavailable, Message: errDatabaseUnavailable.Message, Err: err}
	}
	return fmt.Errorf("%s query: %w", resource, err)
}

func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
