package domain

import "errors"

var (
	// ErrDownloadNotFound means the engine no longer knows the download.
	// The readiness gate treats it as terminal.
	ErrDownloadNotFound = errors.New("download not found")
	// ErrProgressNotFound means no watch progress exists for the lookup key.
	ErrProgressNotFound = errors.New("watch progress not found")
	// ErrUserNotFound means no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists means the username is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrSessionNotFound means the playback session expired or never existed.
	ErrSessionNotFound = errors.New("playback session not found")
	// ErrStreamingNotReady means the engine knows the download but has not
	// indexed a streamable file yet. Transient by definition.
	ErrStreamingNotReady = errors.New("streaming info not ready")
	// ErrReadinessTimeout means streaming info stayed unavailable after the
	// gate opened. Recoverable: the caller stays on the waiting surface and
	// may retry manually.
	ErrReadinessTimeout = errors.New("streaming info unavailable after repeated attempts")
)
