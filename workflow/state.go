package workflow

import "fmt"

// State is the step a job's run has reached.
type State string

const (
	StateInit               State = "init"
	StateNavigated          State = "navigated"
	StateSearched           State = "searched"
	StateResultSelected     State = "result_selected"
	StateChallengePresented State = "challenge_presented"
	StateChallengeSolved    State = "challenge_solved"
	StateSubmitted          State = "submitted"
	StateDownloaded         State = "downloaded"
	StateExtracted          State = "extracted"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// validTransitions lists the legal moves. Failed is reachable from every
// non-terminal state. Submitted may loop back to ChallengePresented when a
// challenge retry is configured.
var validTransitions = map[State][]State{
	StateInit:               {StateNavigated, StateFailed},
	StateNavigated:          {StateSearched, StateFailed},
	StateSearched:           {StateResultSelected, StateFailed},
	StateResultSelected:     {StateChallengePresented, StateFailed},
	StateChallengePresented: {StateChallengeSolved, StateFailed},
	StateChallengeSolved:    {StateSubmitted, StateFailed},
	StateSubmitted:          {StateDownloaded, StateChallengePresented, StateFailed},
	StateDownloaded:         {StateExtracted, StateFailed},
	StateExtracted:          {StateDone, StateFailed},
	StateDone:               {},
	StateFailed:             {},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

func (s State) String() string { return string(s) }

// ErrInvalidTransition is returned when the engine attempts an illegal move.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
