package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: closed")
)

// KV is the get/set-string-by-key persistence capability.
type KV interface {
	// Get returns ErrNotFound when the key was never written.
	Get(ctx context.Context, key string) (string, error)
	// Set durably replaces the value at key.
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Config configures storage.
//
// If Driver is empty, the file driver is used.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	KeyPrefix   string // redis only
}
