package pipeline

// Status records how far a DataContext has progressed through the chain.
type Status int

const (
	// StatusUnprocessed is the initial state of every context.
	StatusUnprocessed Status = iota
	// StatusValid means the payload parsed successfully.
	StatusValid
	// StatusInvalid means the payload could not be parsed. Terminal.
	StatusInvalid
	// StatusSkipped means earlier processing was detected. Terminal.
	StatusSkipped
	// StatusProcessed means the processing side effects ran. Terminal.
	StatusProcessed
)

func (s Status) String() string {
	switch s {
	case StatusUnprocessed:
		return "UNPROCESSED"
	case StatusValid:
		return "VALID"
	case StatusInvalid:
		return "INVALID"
	case StatusSkipped:
		return "SKIPPED"
	case StatusProcessed:
		return "PROCESSED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no later step may change the context's outcome.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusInvalid, StatusSkipped, StatusProcessed:
		return true
	case StatusUnprocessed, StatusValid:
		return false
	default:
		return false
	}
}
