package push

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by every operation on a closed Session,
	// including a second Close.
	ErrSessionClosed = errors.New("push: session is closed")
	// ErrInvalidConfig reports a Config that cannot describe a gateway.
	ErrInvalidConfig = errors.New("push: invalid config")
	// ErrInvalidToken reports a device token that is not valid hex.
	ErrInvalidToken = errors.New("push: invalid device token")
	// ErrReservedField is returned when a supplemental field would replace aps.
	ErrReservedField = errors.New("push: field name is reserved")
	// ErrConnectionClosed is the transport detail of a send that found its
	// connection shut down by the peer.
	ErrConnectionClosed = errors.New("push: connection closed by gateway")
)

// ContractError means the gateway answered outside its documented contract:
// an unexpected status code or an error body whose reason is unknown. It is
// never folded into a MessageResult.
type ContractError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("push: gateway contract violation (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("push: gateway contract violation: unexpected status %d", e.Status)
}

func (e *ContractError) Unwrap() error { return e.Err }
