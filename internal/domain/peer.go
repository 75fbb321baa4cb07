// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const (
	MaxPeerIDLen      = 64
	MaxDisplayNameLen = 36
)

var (
	ErrPeerIDEmpty      = errors.New("peer id empty")
	ErrPeerIDTooLong    = errors.New("peer id too long")
	ErrDisplayNameEmpty = errors.New("display name empty")
	ErrDisplayNameLong  = errors.New("display name too long")
)

// PeerID identifies one participant's media endpoint for the lifetime of a
// connection session. It is distinct from the transport connection: a peer
// that reconnects keeps its PeerID but gets a new connection.
type PeerID string

func ValidatePeerID(id PeerID) error {
	if len(id) == 0 {
		return ErrPeerIDEmpty
	}
	if len(id) > MaxPeerIDLen {
		return ErrPeerIDTooLong
	}
	return nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameLong
	}
	return nil
}
