package ytdash

import (
	"ytdash/internal/retry"
	"ytdash/refresh"
	"ytdash/share"
	"ytdash/state"
	"ytdash/storage"
	"ytdash/transport"
	"ytdash/youtube"
)

// Error handling types exported for library users.
//
// All error types support the standard error handling patterns:
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytdash.ErrUnknownFolder) {
//		fmt.Println("No such folder")
//	}
//
// Using errors.As() for typed errors:
//
//	var quota *ytdash.QuotaExceededError
//	if errors.As(err, &quota) {
//		fmt.Println(quota) // guidance about the daily reset
//	}

// Type aliases for convenient error handling.
type (
	// InvalidInputError rejects an empty or malformed argument.
	InvalidInputError = youtube.InvalidInputError
	// NotFoundError means no channel matched an identifier.
	NotFoundError = youtube.NotFoundError
	// QuotaExceededError means the daily Data API quota is spent.
	QuotaExceededError = youtube.QuotaExceededError
	// AccessDeniedError is a 403 unrelated to quota.
	AccessDeniedError = youtube.AccessDeniedError
	// AuthError means the analytics access token is missing or rejected.
	AuthError = youtube.AuthError
	// APIError is any other upstream failure.
	APIError = youtube.APIError

	// DuplicateChannelError rejects registering a channel twice.
	DuplicateChannelError = state.DuplicateChannelError
	// PersistError means a change could not be written to the local store.
	PersistError = state.PersistError
	// DecodeError means a share token could not be read.
	DecodeError = share.DecodeError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
	// StatusError is an HTTP status seen by the transport.
	StatusError = transport.StatusError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrUnknownFolder indicates a folder id that does not exist.
	ErrUnknownFolder = state.ErrUnknownFolder
	// ErrUnknownChannel indicates a channel id that is not registered.
	ErrUnknownChannel = state.ErrUnknownChannel
	// ErrInvalidPeriod indicates a period other than 7 or 30 days.
	ErrInvalidPeriod = state.ErrInvalidPeriod
	// ErrEmptyName indicates a blank folder name.
	ErrEmptyName = state.ErrEmptyName
	// ErrBuiltinCredential indicates the build fixes the API key.
	ErrBuiltinCredential = state.ErrBuiltinCredential
	// ErrNoCredential indicates no API key is configured.
	ErrNoCredential = refresh.ErrNoCredential
	// ErrCircuitOpen indicates the transport is refusing calls to a failing host.
	ErrCircuitOpen = transport.ErrCircuitOpen

	// Storage errors
	// ErrNotFound indicates a key was not found in storage.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = storage.ErrInvalidInput
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = storage.ErrLockTimeout
	// ErrClosed indicates use of a closed store.
	ErrClosed = storage.ErrClosed
)

// IsRetryable determines if an error should be retried.
// It returns false for context cancellation and permanent errors.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
