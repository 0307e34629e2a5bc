package coordinator

import "errors"

// Coordinator-level errors surfaced to connections as error events.
var (
	ErrNotJoined         = errors.New("join an exam before performing this action")
	ErrNotCandidate      = errors.New("only candidates can stream video")
	ErrReconnectRejected = errors.New("reconnection rejected: no pending disconnect for this exam")
	ErrSelfSubmitOnly    = errors.New("frames can only be submitted for your own identity")
)
