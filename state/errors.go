package state

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownFolder is returned for a folder id that does not exist.
	ErrUnknownFolder = errors.New("state: unknown folder")
	// ErrUnknownChannel is returned for a channel id that is not registered.
	ErrUnknownChannel = errors.New("state: unknown channel")
	// ErrInvalidPeriod is returned for a period other than 7 or 30 days.
	ErrInvalidPeriod = errors.New("state: invalid period")
	// ErrEmptyName is returned when a folder name is blank.
	ErrEmptyName = errors.New("state: empty name")
	// ErrBuiltinCredential is returned when changing the credential of a
	// build that embeds one.
	ErrBuiltinCredential = errors.New("state: credential is fixed by this build")
)

// DuplicateChannelError rejects adding a channel that is already registered.
type DuplicateChannelError struct {
	ID    string
	Title string
}

func (e *DuplicateChannelError) Error() string {
	return fmt.Sprintf("channel %q (%s) is already registered", e.Title, e.ID)
}

// PersistError reports that a change was applied in memory but could not be
// written to the local store.
type PersistError struct {
	Key string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("state: persist %s: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
