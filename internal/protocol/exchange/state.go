package exchange

import "bytes"

type (
	State int32
	Role  int32
)

const (
	StateNoKeys State = iota
	StateAwaitingPeer
	StateInitiatorReady
	StateResponderReady
	StateEstablished
	StateFailed
)

const (
	RoleUndecided Role = iota
	RoleInitiator
	RoleResponder
)

func (s State) String() string {
	switch s {
	case StateNoKeys:
		return "NO_KEYS"
	case StateAwaitingPeer:
		return "AWAITING_PEER"
	case StateInitiatorReady:
		return "INITIATOR_READY"
	case StateResponderReady:
		return "RESPONDER_READY"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	}
	return "undecided"
}

// DecideRole compares the two participant identifiers as byte strings: the
// smaller one initiates. Identical identifiers leave the role undecided.
func DecideRole(self, peer string) Role {
	switch bytes.Compare([]byte(self), []byte(peer)) {
	case -1:
		return RoleInitiator
	case 1:
		return RoleResponder
	}
	return RoleUndecided
}
