package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddExpense_Validation(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	tests := []struct {
		name  string
		input AddExpenseInput
		code  apperr.Code
	}{
		{"zero amount", AddExpenseInput{LineItemID: env.itemID(0), Amount: decimal.Zero, IncurredOn: now}, apperr.CodeInvalidAmount},
		{"negative amount", AddExpenseInput{LineItemID: env.itemID(0), Amount: dec(-5), IncurredOn: now}, apperr.CodeInvalidAmount},
		{"sub-cent amount", AddExpenseInput{LineItemID: env.itemID(0), Amount: decimal.RequireFromString("1.005"), IncurredOn: now}, apperr.CodeInvalidInput},
		{"unknown category", AddExpenseInput{LineItemID: env.itemID(0), Amount: dec(5), Category: "travel", IncurredOn: now}, apperr.CodeInvalidInput},
		{"reserved category", AddExpenseInput{LineItemID: env.itemID(0), Amount: dec(5), Category: entity.CategoryReversal, IncurredOn: now}, apperr.CodeInvalidInput},
		{"missing date", AddExpenseInput{LineItemID: env.itemID(0), Amount: dec(5)}, apperr.CodeInvalidInput},
		{"missing line item", AddExpenseInput{LineItemID: 999, Amount: dec(5), IncurredOn: now}, apperr.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.expenses.AddExpense(as("c1"), tt.input)
			require.Error(t, err)
			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestAddExpense_PendingUntilApproved(t *testing.T) {
	env := newTestEnv(t)

	e := env.add(t, 0, 1200)
	assert.False(t, e.Approved)
	assert.Equal(t, entity.CategoryLabor, e.Category)
	assert.Equal(t, "c1", e.CreatedBy)
	assert.True(t, env.lineItem(t, 0).ThisPeriod.IsZero())

	approved, err := env.expenses.ApproveExpense(as("r1"), e.ID)
	require.NoError(t, err)
	assert.True(t, approved.Approved)
	assert.Equal(t, "r1", approved.ApprovedBy)
	assert.True(t, env.lineItem(t, 0).ThisPeriod.Equal(dec(1200)))

	_, err = env.expenses.ApproveExpense(as("r1"), e.ID)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyApproved))

	assert.Equal(t, []event.Type{event.TypeExpenseAdded, event.TypeExpenseApproved}, env.publisher.types())
}

func TestAddExpense_Authorization(t *testing.T) {
	env := newTestEnv(t)
	input := AddExpenseInput{LineItemID: env.itemID(0), Amount: dec(10), IncurredOn: time.Now().UTC()}

	_, err := env.expenses.AddExpense(as("r1"), input)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = env.expenses.AddExpense(as("c2"), input)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "another contractor of the organization")

	e := env.add(t, 0, 10)
	_, err = env.expenses.ApproveExpense(as("c1"), e.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "contractors cannot approve their own expenses")
}

func TestAddExpense_ClosedPeriodRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.RollForward(context.Background(), env.itemID(0), 1)
	require.NoError(t, err)

	_, err = env.expenses.AddExpense(as("c1"), AddExpenseInput{
		LineItemID: env.itemID(0),
		Amount:     dec(10),
		IncurredOn: time.Now().UTC().AddDate(0, 0, -3),
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	e, err := env.expenses.AddExpense(as("c1"), AddExpenseInput{
		LineItemID: env.itemID(0),
		Amount:     dec(10),
		IncurredOn: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, e.BillingPeriod)
}

func TestRejectExpense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.add(t, 0, 300)
	require.NoError(t, env.expenses.RejectExpense(as("r1"), pending.ID))
	_, err := env.store.LoadExpense(ctx, pending.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	withdrawn := env.add(t, 0, 300)
	assert.True(t, errors.Is(env.expenses.RejectExpense(as("c2"), withdrawn.ID), apperr.ErrForbidden))
	require.NoError(t, env.expenses.RejectExpense(as("c1"), withdrawn.ID))

	approved := env.approve(t, 0, 400)
	err = env.expenses.RejectExpense(as("r1"), approved.ID)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyApproved))
	assert.True(t, env.lineItem(t, 0).ThisPeriod.Equal(dec(400)))
}

func TestReverseExpense(t *testing.T) {
	env := newTestEnv(t)
	original := env.approve(t, 0, 1000)

	reversal, err := env.expenses.ReverseExpense(as("c1"), original.ID, dec(600), "duplicate invoice")
	require.NoError(t, err)
	assert.Equal(t, entity.CategoryReversal, reversal.Category)
	require.NotNil(t, reversal.ReversesExpenseID)
	assert.Equal(t, original.ID, *reversal.ReversesExpenseID)
	assert.True(t, reversal.SignedAmount().Equal(dec(-600)))
	assert.True(t, env.lineItem(t, 0).ThisPeriod.Equal(dec(1000)), "pending reversal does not count")

	_, err = env.expenses.ApproveExpense(as("r1"), reversal.ID)
	require.NoError(t, err)
	assert.True(t, env.lineItem(t, 0).ThisPeriod.Equal(dec(400)))

	_, err = env.expenses.ReverseExpense(as("c1"), original.ID, dec(401), "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "reversals cannot exceed the original")

	_, err = env.expenses.ReverseExpense(as("c1"), reversal.ID, dec(1), "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "a reversal cannot be reversed")

	pending := env.add(t, 0, 50)
	_, err = env.expenses.ReverseExpense(as("c1"), pending.ID, dec(50), "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "pending entries are removed, not reversed")

	_, err = env.expenses.ReverseExpense(as("c1"), original.ID, decimal.Zero, "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidAmount))

	entries, err := env.expenses.ListExpenses(as("r1"), env.itemID(0))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestReverseExpense_NetsAgainstOpenPeriod(t *testing.T) {
	env := newTestEnv(t)
	original := env.approve(t, 0, 1000)
	_, err := env.ledger.RollForward(context.Background(), env.itemID(0), 1)
	require.NoError(t, err)

	// nothing billed this period to offset
	_, err = env.expenses.ReverseExpense(as("c1"), original.ID, dec(100), "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	entries, err := env.expenses.ListExpenses(as("r1"), env.itemID(0))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "a refused reversal leaves nothing pending")

	env.approve(t, 0, 300)
	first, err := env.expenses.ReverseExpense(as("c1"), original.ID, dec(200), "")
	require.NoError(t, err)

	// pending reversals count against the same open-period balance
	_, err = env.expenses.ReverseExpense(as("c1"), original.ID, dec(101), "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.expenses.ApproveExpense(as("r1"), first.ID)
	require.NoError(t, err)
	assert.True(t, env.lineItem(t, 0).ThisPeriod.Equal(dec(100)))
}

func TestExpenses_LockedWhileUnderReview(t *testing.T) {
	env := newTestEnv(t)
	pending := env.add(t, 0, 100)
	env.openApplication(t, entity.StatusSubmitted)

	_, err := env.expenses.ApproveExpense(as("r1"), pending.ID)
	assert.True(t, errors.Is(err, apperr.ErrApplicationLocked))
	assert.True(t, errors.Is(env.expenses.RejectExpense(as("r1"), pending.ID), apperr.ErrApplicationLocked))
}
