package chatbot

import "errors"

var (
	// ErrUnknownPlatform is returned when no adapter is registered for a platform.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrAuthentication marks a message whose sender could not be identified.
	ErrAuthentication = errors.New("authentication failed")
	// ErrPersistence marks a store failure while handling a message.
	ErrPersistence = errors.New("persistence failure")
	// ErrDelivery marks a response that could not be pushed to the user.
	ErrDelivery = errors.New("delivery failure")
	// ErrUnknownFlow marks conversation state naming a flow no handler owns.
	ErrUnknownFlow = errors.New("unknown conversation flow")
)
