package domain

// UnitKind identifies what a supervised unit was reacting to.
type UnitKind string

const (
	UnitPending UnitKind = "pending"
	UnitBlock   UnitKind = "block"
)

// Outcome is the terminal state of a reaction.
type Outcome string

const (
	OutcomeNoAction     Outcome = "no_action"     // no monitor produced a bundle
	OutcomeSimulated    Outcome = "simulated"     // bundle simulated, submission disabled
	OutcomeSubmitted    Outcome = "submitted"     // bundle signed and broadcast
	OutcomeReverted     Outcome = "reverted"      // simulation or estimate reverted
	OutcomeFailed       Outcome = "failed"        // fetch, monitor or transport error
	OutcomeCancelled    Outcome = "cancelled"     // shutdown won the race
	OutcomeBlockHandled Outcome = "block_handled" // block monitors ran
)

// Reaction is the audit record of one finished unit.
// Corresponds to the reactions table in PostgreSQL.
type Reaction struct {
	ReactionID  string   // PRIMARY KEY, deterministic hash of key|monitor|run
	RunID       string   // engine run (uuid)
	Kind        UnitKind // pending | block
	Key         string   // tx hash or block hash, 0x-hex
	Monitor     string   // monitor that produced the bundle (empty if none)
	Outcome     Outcome
	Calls       int     // bundle size
	SubmittedTx *string // broadcast tx hash (nullable)
	Error       *string // failure description (nullable)
	ElapsedUs   int64   // unit wall time in microseconds
	ObservedAt  int64   // Unix timestamp in milliseconds
	CreatedAt   int64   // record creation timestamp (ms)
}
