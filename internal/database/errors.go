package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUnavailable marks failures of the store itself (refused
	// connections, closed pools, failed pings) as opposed to failures of a
	// single statement.
	ErrUnavailable = errors.New("database unavailable")
	ErrNotFound    = errors.New("not found")
)

func wrapErr(op string, err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("failed to %s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "closed pool") ||
		strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "unable to open database")
}
