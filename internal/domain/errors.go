package domain

import "errors"

var (
	// ErrClientAlreadyExists is returned when a session already exists for the owner
	ErrClientAlreadyExists = errors.New("client already exists for this owner")

	// ErrClientNotFound is returned when no session exists for the owner
	ErrClientNotFound = errors.New("client not found for this owner")

	// ErrAlreadyConnected is returned when Connect is called on a live connection
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected is returned when an operation requires an open connection
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidPhone is returned when the phone number is not +7 followed by 10 digits
	ErrInvalidPhone = errors.New("phone number must be in format +7xxxxxxxxxx")

	// ErrInvalidState is returned when an operation is invalid in the current auth stage
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrNotAuthenticated is returned when an operation requires a full token
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrMissingToken is returned when a token is required but absent
	ErrMissingToken = errors.New("token is required")

	// ErrAuthExpired is returned when the code was not submitted within the auth window
	ErrAuthExpired = errors.New("authentication code window expired")

	// ErrAlreadySubscribed is returned when subscribing to the currently subscribed chat
	ErrAlreadySubscribed = errors.New("already listening to this chat")

	// ErrNotSubscribed is returned when unsubscribing from a chat that is not subscribed
	ErrNotSubscribed = errors.New("not listening to this chat")

	// ErrReconnectFailed is returned when the reconnect retry cap is exhausted
	ErrReconnectFailed = errors.New("reconnect retry limit exceeded")

	// ErrAccountNotFound is returned when a persisted account is not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrGroupNotFound is returned when a group link is not found
	ErrGroupNotFound = errors.New("group not found")

	// ErrDatabaseOperation is returned when a storage operation fails
	ErrDatabaseOperation = errors.New("database operation failed")
)
