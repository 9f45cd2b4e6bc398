package domain

import "errors"

var (
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotReceiver        = errors.New("only the receiver can mark a message seen")
	ErrMessageExists      = errors.New("message already exists")
	ErrIdentityNotJoined  = errors.New("connection has not joined an identity")
	ErrEmptyIdentity      = errors.New("identity must not be empty")
	ErrEmptyContent       = errors.New("message content must not be empty")
	ErrInvalidMessageType = errors.New("message type must be text or voice")
)
