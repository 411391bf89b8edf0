package records

// State identifies where a record sits in its persistence lifecycle.
type State int

const (
	// StateNew marks a client-created record that has never been persisted.
	StateNew State = iota
	// StateInFlightCreate marks a new record with an outstanding create request.
	StateInFlightCreate
	// StatePersisted marks a record whose attributes match the server copy.
	StatePersisted
	// StateDirty marks a persisted record with unsaved local mutations.
	StateDirty
	// StateInFlightUpdate marks a dirty record with an outstanding update request.
	StateInFlightUpdate
	// StateDeleted marks a record locally flagged for deletion, not yet saved.
	StateDeleted
	// StateInFlightDelete marks a deleted record with an outstanding delete request.
	StateInFlightDelete
	// StateDestroyed marks a deletion acknowledged by the server.
	StateDestroyed
	// StateUnloaded marks a record evicted from the identity map. Terminal.
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInFlightCreate:
		return "inFlightCreate"
	case StatePersisted:
		return "persisted"
	case StateDirty:
		return "dirty"
	case StateInFlightUpdate:
		return "inFlightUpdate"
	case StateDeleted:
		return "deleted"
	case StateInFlightDelete:
		return "inFlightDelete"
	case StateDestroyed:
		return "destroyed"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// InFlight reports whether the state carries an outstanding network request.
// At most one request may be associated with a record at a time; operations
// that would start a second one are rejected with StateConflictError.
func (s State) InFlight() bool {
	switch s {
	case StateInFlightCreate, StateInFlightUpdate, StateInFlightDelete:
		return true
	default:
		return false
	}
}

// Terminal reports whether the record can no longer participate in requests.
func (s State) Terminal() bool {
	return s == StateDestroyed || s == StateUnloaded
}

// inFlightState maps a save-eligible state onto the in-flight state its
// request runs under, and the adapter operation that request uses.
func inFlightState(s State) (State, Operation, bool) {
	switch s {
	case StateNew:
		return StateInFlightCreate, OpCreateRecord, true
	case StatePersisted, StateDirty:
		return StateInFlightUpdate, OpUpdateRecord, true
	case StateDeleted:
		return StateInFlightDelete, OpDeleteRecord, true
	default:
		return s, "", false
	}
}

// rollbackState recovers the pre-request state after a failed request.
func rollbackState(s State) State {
	switch s {
	case StateInFlightCreate:
		return StateNew
	case StateInFlightUpdate:
		return StateDirty
	case StateInFlightDelete:
		return StateDeleted
	default:
		return s
	}
}

// commitState is the state a record lands in after its request succeeds.
func commitState(s State) State {
	switch s {
	case StateInFlightCreate, StateInFlightUpdate:
		return StatePersisted
	case StateInFlightDelete:
		return StateDestroyed
	default:
		return s
	}
}
