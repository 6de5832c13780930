package workflow

import (
	"context"
	"errors"
	"testing"
)

var errNotReady = errors.New("not ready")

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateDraft, false},
		{StateSubmitted, false},
		{StateUnderReview, false},
		{StateChangesRequested, false},
		{StateFullyReviewed, false},
		{StateFinalized, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsWritable(t *testing.T) {
	writable := map[State]bool{StateDraft: true, StateChangesRequested: true}
	for state := range validStates {
		if got := state.IsWritable(); got != writable[state] {
			t.Errorf("%s.IsWritable() = %v, want %v", state, got, writable[state])
		}
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"draft", StateDraft, true},
		{"finalized", StateFinalized, true},
		{"invalid state", State("APPROVED"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerRequestChanges.String(); got != "REQUEST_CHANGES" {
		t.Errorf("Trigger.String() = %v, want %v", got, "REQUEST_CHANGES")
	}
}

func TestBuilder_ConfigureReturnsSameConfig(t *testing.T) {
	builder := NewBuilder()

	config := builder.Configure(StateDraft)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}
	if config2 := builder.Configure(StateDraft); config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_ConfigurePanics(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{"invalid state", State("INVALID")},
		{"terminal state", StateFinalized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Configure(%s) should panic", tt.state)
				}
			}()
			NewBuilder().Configure(tt.state)
		})
	}
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	NewBuilder().Build(State("INVALID"))
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).Permit(TriggerSubmit, StateSubmitted)

	machine := builder.Build(StateDraft)
	if !machine.CanFire(TriggerSubmit) {
		t.Error("CanFire() should return true for permitted trigger")
	}

	tr, err := machine.Fire(context.Background(), TriggerSubmit)
	if err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if tr.From != StateDraft || tr.To != StateSubmitted || tr.Trigger != TriggerSubmit {
		t.Errorf("Fire() transition = %+v", tr)
	}
	if machine.State() != StateSubmitted {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StateSubmitted)
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).
		PermitIf(TriggerSubmit, StateSubmitted, func(ctx context.Context) error {
			return errNotReady
		})

	machine := builder.Build(StateDraft)

	_, err := machine.Fire(context.Background(), TriggerSubmit)
	if err == nil {
		t.Fatal("Fire() should fail when guard fails")
	}
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if !errors.Is(err, errNotReady) {
		t.Errorf("Fire() error = %v, should wrap guard error", err)
	}
	if machine.State() != StateDraft {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateDraft, machine.State())
	}
}

func TestStateConfiguration_PermitIf_FirstPassingGuardWins(t *testing.T) {
	done := true
	builder := NewBuilder()
	builder.Configure(StateUnderReview).
		PermitIf(TriggerApprove, StateFullyReviewed, func(ctx context.Context) error {
			if !done {
				return errNotReady
			}
			return nil
		}).
		Permit(TriggerApprove, StateUnderReview)

	m1 := builder.Build(StateUnderReview)
	if _, err := m1.Fire(context.Background(), TriggerApprove); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if m1.State() != StateFullyReviewed {
		t.Errorf("State = %v, want %v", m1.State(), StateFullyReviewed)
	}

	done = false
	m2 := builder.Build(StateUnderReview)
	if _, err := m2.Fire(context.Background(), TriggerApprove); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if m2.State() != StateUnderReview {
		t.Errorf("State = %v, want %v", m2.State(), StateUnderReview)
	}
}

func TestStateConfiguration_PermitPanicsOnInvalidState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic on invalid target state")
		}
	}()

	NewBuilder().Configure(StateDraft).Permit(TriggerSubmit, State("INVALID"))
}

func TestStateMachine_Fire_InvalidTransition(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).Permit(TriggerSubmit, StateSubmitted)

	machine := builder.Build(StateDraft)

	_, err := machine.Fire(context.Background(), TriggerFinalize)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
	if machine.State() != StateDraft {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateDraft, machine.State())
	}
}

func TestStateMachine_Fire_NoConfiguration(t *testing.T) {
	machine := NewBuilder().Build(StateFinalized)

	_, err := machine.Fire(context.Background(), TriggerSubmit)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
	if got := machine.PermittedTriggers(); len(got) != 0 {
		t.Errorf("PermittedTriggers() = %v, want none", got)
	}
}

func TestStateMachine_PermittedTriggersSorted(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateUnderReview).
		Permit(TriggerRequestChanges, StateChangesRequested).
		Permit(TriggerApprove, StateFullyReviewed)

	triggers := builder.Build(StateUnderReview).PermittedTriggers()
	if len(triggers) != 2 || triggers[0] != TriggerApprove || triggers[1] != TriggerRequestChanges {
		t.Errorf("PermittedTriggers() = %v, want [APPROVE REQUEST_CHANGES]", triggers)
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).Permit(TriggerSubmit, StateSubmitted)

	machine1 := builder.Build(StateDraft)
	machine2 := builder.Build(StateDraft)

	// later builder changes must not reach machines already built
	builder.Configure(StateDraft).Permit(TriggerFinalize, StateFinalized)

	if _, err := machine1.Fire(context.Background(), TriggerSubmit); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine2.State() != StateDraft {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", machine2.State(), StateDraft)
	}
	if machine2.CanFire(TriggerFinalize) {
		t.Error("machine2 should not see transitions configured after Build()")
	}
}
