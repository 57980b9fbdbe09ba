package domain

import (
	"fmt"
	"strings"
)

// State is the lifecycle stage of a candidate.
type State string

const (
	StatePreReferral State = "pre_referral"
	StateSeed        State = "seed"
	StateReferred    State = "referred"
	StateGathering   State = "gathering"
	StateTesting     State = "testing"
	StateReady       State = "ready"
	StateStalled     State = "stalled"
	StateAccepted    State = "accepted"
	StateRejected    State = "rejected"
)

var states = []State{
	StatePreReferral,
	StateSeed,
	StateReferred,
	StateGathering,
	StateTesting,
	StateReady,
	StateStalled,
	StateAccepted,
	StateRejected,
}

// edges is the only place where lifecycle progression is defined.
var edges = map[State][]State{
	StatePreReferral: {StateReferred},
	StateSeed:        {StateReferred},
	StateReferred:    {StateGathering},
	StateGathering:   {StateReady, StateTesting, StateStalled},
	StateTesting:     {StateAccepted, StateRejected},
	StateReady:       {StateAccepted, StateRejected},
}

// ErrInvalidTransition is returned for any move that is not an edge of the lifecycle graph.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid lifecycle transition %s -> %s", e.From, e.To)
}

// ParseState converts a stored string into a State.
func ParseState(s string) (State, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, st := range states {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown state %q", s)
}

// States returns every known state in graph order.
func States() []State {
	out := make([]State, len(states))
	copy(out, states)
	return out
}

// Terminal reports whether no automated progression leaves the state.
func (s State) Terminal() bool {
	return len(edges[s]) == 0
}

func (s State) String() string { return string(s) }

// Transition validates a lifecycle move and returns the target state.
func Transition(from, to State) (State, error) {
	for _, next := range edges[from] {
		if next == to {
			return to, nil
		}
	}
	return from, &ErrInvalidTransition{From: from, To: to}
}

// CanTransition is the boolean form of Transition.
func CanTransition(from, to State) bool {
	_, err := Transition(from, to)
	return err == nil
}
