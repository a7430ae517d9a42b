package domain

// UnitStatus is the dispatch state of a single chunk unit.
type UnitStatus string

const (
	UnitPending          UnitStatus = "pending"
	UnitInFlight         UnitStatus = "in_flight"
	UnitSucceeded        UnitStatus = "succeeded"
	UnitRetryableFailure UnitStatus = "retryable_failure"
	UnitTerminalFailure  UnitStatus = "terminal_failure"
)

// Unit is one independently dispatchable slice of a job.
type Unit struct {
	Index     int    `json:"index"`
	Payload   string `json:"payload"`
	Separator string `json:"separator,omitempty"`
	// Context is preceding source text sent alongside the payload. It is
	// never translated or returned.
	Context string `json:"context,omitempty"`
	// Lines is the number of subtitle lines the payload carries, 0 for free text.
	Lines int `json:"lines,omitempty"`
}

// UnitOutcome is the terminal result of one unit.
type UnitOutcome struct {
	Index      int        `json:"index"`
	Status     UnitStatus `json:"status"`
	Text       string     `json:"text,omitempty"`
	Class      ErrorClass `json:"class,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Credential string     `json:"credential,omitempty"`
	Attempts   int        `json:"attempts"`
	// SameAttempts counts calls on the final credential, CrossAttempts the
	// failovers that led to it.
	SameAttempts  int `json:"same_attempts"`
	CrossAttempts int `json:"cross_attempts"`
	// LastError is the reason of the most recent failed call, kept even
	// when a later retry succeeded.
	LastError string `json:"last_error,omitempty"`
}
