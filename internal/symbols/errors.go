package symbols

import "errors"

var (
	// ErrNoSymbols is returned when nothing is loaded or the image has no
	// function symbols.
	ErrNoSymbols = errors.New("no symbols loaded")

	// ErrUnstable is returned when the image did not settle before the
	// context ended, or vanished while being watched.
	ErrUnstable = errors.New("symbol file not stable")

	// ErrReloadInProgress is returned when a reload is already running.
	ErrReloadInProgress = errors.New("symbol reload already in progress")
)
