package lifecycle

import (
	"testing"
)

var allStates = []State{
	StateUnknown, StateStarting, StateRunning,
	StateStopping, StateStopped, StateFailed,
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnknown, "unknown"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestState_Valid(t *testing.T) {
	for _, s := range allStates {
		if !s.Valid() {
			t.Errorf("State(%q).Valid() = false, want true", s)
		}
	}
	for _, s := range []State{"", "bogus", "RUNNING", "paused"} {
		if s.Valid() {
			t.Errorf("State(%q).Valid() = true, want false", s)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range allStates {
		want := s == StateStopped || s == StateFailed
		if got := s.IsTerminal(); got != want {
			t.Errorf("State(%q).IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

func TestValidTransition_AllValid(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{StateUnknown, StateStarting},
		{StateUnknown, StateFailed},
		{StateStarting, StateRunning},
		{StateStarting, StateFailed},
		{StateStarting, StateStopping},
		{StateRunning, StateStopping},
		{StateRunning, StateFailed},
		{StateStopping, StateStopped},
		{StateStopping, StateFailed},
		// restart
		{StateStopped, StateStarting},
		{StateFailed, StateStarting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if !ValidTransition(tt.from, tt.to) {
				t.Errorf("ValidTransition(%q, %q) = false, want true", tt.from, tt.to)
			}
		})
	}
}

func TestValidTransition_Invalid(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{StateUnknown, StateRunning},
		{StateRunning, StateStarting},
		{StateStopped, StateRunning},
		{StateStopping, StateRunning},
		{StateFailed, StateRunning},
		{StateUnknown, StateStopped},
		{State("nonexistent"), StateStarting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if ValidTransition(tt.from, tt.to) {
				t.Errorf("ValidTransition(%q, %q) = true, want false", tt.from, tt.to)
			}
		})
	}
}

func TestValidTransition_SameState(t *testing.T) {
	for _, s := range allStates {
		if ValidTransition(s, s) {
			t.Errorf("ValidTransition(%q, %q) = true, want false", s, s)
		}
	}
}
