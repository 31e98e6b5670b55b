package federation

// OutcomeKind discriminates an Outcome.
type OutcomeKind int

const (
	// Success carries a verified Identity.
	Success OutcomeKind = iota
	// Failure means the user or provider declined; Reason says why.
	Failure
	// Error means the flow broke on our side or in transport.
	Error
)

// Outcome is the result of a federated login callback.
type Outcome struct {
	Kind     OutcomeKind
	Identity Identity
	Reason   string
	Err      error
}

func Succeeded(id Identity) Outcome { return Outcome{Kind: Success, Identity: id} }
func Failed(reason string) Outcome  { return Outcome{Kind: Failure, Reason: reason} }
func Errored(err error) Outcome     { return Outcome{Kind: Error, Err: err} }
