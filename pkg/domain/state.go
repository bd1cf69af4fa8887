package domain

// SessionState is the lifecycle stage of a synchronization session.
type SessionState string

const (
	StateConnecting SessionState = "connecting" // Created, initial model not yet delivered
	StateActive     SessionState = "active"     // Handshake done, patches flow both ways
	StateClosing    SessionState = "closing"    // No further patches accepted
	StateClosed     SessionState = "closed"     // Subscriptions released, removed from registry
)

// Accepting reports whether patches may still be applied or queued in this state.
func (s SessionState) Accepting() bool {
	return s == StateActive
}
