package peerlink

import (
	"errors"
	"fmt"

	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
)

var (
	ErrLinkClosed     = errors.New("link closed")
	ErrLayoutChanged  = errors.New("transceiver layout changed")
	ErrNoPendingOffer = errors.New("no pending local offer")

	// ErrRollbackUnsupported is returned when the connection cannot discard a
	// pending local offer. pion rejects have-local-offer to stable.
	ErrRollbackUnsupported = errors.New("local offer rollback unsupported")
)

// Error tags a negotiation failure with the operation and the remote peer.
type Error struct {
	Op   string
	Peer protocol.ParticipantID
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer.Short(), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, peer protocol.ParticipantID, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}
