package presence

// Outcome tells a caller what a best-effort store operation actually did.
type Outcome int

const (
	// Succeeded means the store applied the change.
	Succeeded Outcome = iota
	// Degraded means no store is configured; the call was a no-op.
	Degraded
	// Failed means the store was configured but the call errored or timed out.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (o Outcome) OK() bool { return o == Succeeded }
