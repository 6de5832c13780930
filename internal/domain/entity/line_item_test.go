package entity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLineItem_Rollups(t *testing.T) {
	li := &LineItem{
		ScheduledValue:          d("25000"),
		FromPreviousApplication: d("20000"),
		ThisPeriod:              d("2500"),
		MaterialsStored:         d("500"),
		RetainagePercent:        d("5"),
	}

	assert.True(t, li.TotalCompletedToDate().Equal(d("22500")))
	assert.True(t, li.TotalCompletedAndStored().Equal(d("23000")))
	assert.True(t, li.PercentComplete().Equal(d("90")))
	assert.True(t, li.BalanceToFinish().Equal(d("2500")))
	assert.True(t, li.Retainage().Equal(d("1125")))
	assert.True(t, li.BilledTotal().Equal(d("23000")))
}

func TestLineItem_Fits(t *testing.T) {
	li := &LineItem{ScheduledValue: d("25000"), FromPreviousApplication: d("20000")}

	assert.True(t, li.Fits(d("5000"), decimal.Zero))
	assert.True(t, li.Fits(d("4000"), d("1000")))
	assert.False(t, li.Fits(d("10000"), decimal.Zero))
	assert.False(t, li.Fits(d("5000"), d("0.01")))
}

func TestPercentOf(t *testing.T) {
	assert.True(t, PercentOf(d("1"), d("3")).Equal(d("33.33")))
	assert.True(t, PercentOf(d("2"), d("3")).Equal(d("66.67")))
	assert.True(t, PercentOf(d("5"), decimal.Zero).IsZero())
}

func TestRetainageOn_RoundsToCents(t *testing.T) {
	assert.True(t, RetainageOn(d("333.33"), d("10")).Equal(d("33.33")))
	assert.True(t, RetainageOn(d("0.05"), d("10")).Equal(d("0.01")))
}

func TestLineItem_SnapshotCopiesFigures(t *testing.T) {
	li := &LineItem{
		ID:                      9,
		ItemNumber:              "03-100",
		ScheduledValue:          d("100"),
		FromPreviousApplication: d("10"),
		ThisPeriod:              d("20"),
		MaterialsStored:         d("5"),
		CertifiedMaterials:      d("3"),
		RetainagePercent:        d("10"),
		BillingPeriod:           4,
	}
	snap := li.Snapshot()
	li.ThisPeriod = d("99")

	assert.Equal(t, int64(9), snap.LineItemID)
	assert.True(t, snap.ThisPeriod.Equal(d("20")))
	assert.True(t, snap.CertifiedMaterials.Equal(d("3")))
	assert.Equal(t, 4, snap.BillingPeriod)
}

func TestSumApprovedInPeriod(t *testing.T) {
	orig := int64(1)
	expenses := []*Expense{
		{ID: 1, Amount: d("100"), Approved: true, BillingPeriod: 2},
		{ID: 2, Amount: d("40"), Approved: true, BillingPeriod: 2, ReversesExpenseID: &orig},
		{ID: 3, Amount: d("500"), Approved: false, BillingPeriod: 2},
		{ID: 4, Amount: d("70"), Approved: true, BillingPeriod: 1},
	}
	assert.True(t, SumApprovedInPeriod(expenses, 2).Equal(d("60")))
	assert.True(t, SumApprovedInPeriod(expenses, 1).Equal(d("70")))
}

func TestPayApplication_ReviewerCursor(t *testing.T) {
	app := &PayApplication{ReviewerChain: []string{"r1", "r2"}, Status: StatusUnderReview}
	assert.Equal(t, "r1", app.CurrentReviewer())
	assert.False(t, app.ChainComplete())
	assert.True(t, app.LocksLedger())

	app.CurrentReviewerIndex = 2
	assert.Equal(t, "", app.CurrentReviewer())
	assert.True(t, app.ChainComplete())

	app.Status = StatusChangesRequested
	assert.False(t, app.LocksLedger())
	assert.True(t, app.IsOpen())
}

func TestItemNumberOrdering(t *testing.T) {
	p := &Project{LineItems: []*LineItem{{ItemNumber: "10"}, {ItemNumber: "2"}, {ItemNumber: "1"}}}
	p.SortLineItems()
	got := []string{p.LineItems[0].ItemNumber, p.LineItems[1].ItemNumber, p.LineItems[2].ItemNumber}
	assert.Equal(t, []string{"1", "2", "10"}, got)
}
