package relay

import "errors"

var (
	// ErrUnknownChannel means a channel name has no policy or thread record.
	// All channels must be known at startup, so this is a configuration error.
	ErrUnknownChannel = errors.New("relay: unknown channel")

	// ErrUnknownAction means a configured action name is not recognized.
	ErrUnknownAction = errors.New("relay: unknown action")
)
