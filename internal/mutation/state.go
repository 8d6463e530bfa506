package mutation

// State is a stage of one mutation attempt.
//
//	Idle -> Validating -> Transforming -> Dispatching -> (RefreshingCredential) -> AwaitingResponse
//	     -> Succeeded | RetryScheduled -> Dispatching | Failed
type State int

const (
	Idle State = iota
	Validating
	Transforming
	Dispatching
	RefreshingCredential
	AwaitingResponse
	RetryScheduled
	Succeeded
	Failed
)

var stateNames = [...]string{
	Idle:                 "idle",
	Validating:           "validating",
	Transforming:         "transforming",
	Dispatching:          "dispatching",
	RefreshingCredential: "refreshing_credential",
	AwaitingResponse:     "awaiting_response",
	RetryScheduled:       "retry_scheduled",
	Succeeded:            "succeeded",
	Failed:               "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s ends the attempt.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	Idle:                 {Validating},
	Validating:           {Transforming, Failed},
	Transforming:         {Dispatching, Failed},
	Dispatching:          {RefreshingCredential, AwaitingResponse, RetryScheduled, Failed},
	RefreshingCredential: {AwaitingResponse, Failed},
	AwaitingResponse:     {RefreshingCredential, Succeeded, RetryScheduled, Failed},
	RetryScheduled:       {Dispatching, Failed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Observer receives every state change of a submission.
type Observer func(op string, from, to State)

type tracker struct {
	op       string
	state    State
	observer Observer
}

func (t *tracker) to(next State) {
	prev := t.state
	t.state = next
	if t.observer != nil {
		t.observer(t.op, prev, next)
	}
}
