package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCostRecordUnitCost(t *testing.T) {
	tests := []struct {
		name     string
		cost     string
		quantity string
		want     string
	}{
		{name: "normal division", cost: "50", quantity: "1000", want: "0.05"},
		{name: "zero quantity", cost: "50", quantity: "0", want: "0"},
		{name: "negative quantity", cost: "50", quantity: "-3", want: "0"},
		{name: "fractional quantity", cost: "1", quantity: "4", want: "0.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &CostRecord{
				CostAmount:    decimal.RequireFromString(tt.cost),
				UsageQuantity: decimal.RequireFromString(tt.quantity),
			}
			assert.True(t, decimal.RequireFromString(tt.want).Equal(r.UnitCost()),
				"got %s", r.UnitCost())
		})
	}
}

func TestBenchmarkValidAt(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	b := &Benchmark{ValidFrom: from, ValidUntil: &until}
	assert.False(t, b.ValidAt(from.Add(-time.Second)))
	assert.True(t, b.ValidAt(from))
	assert.True(t, b.ValidAt(until.Add(-time.Second)))
	assert.False(t, b.ValidAt(until))

	open := &Benchmark{ValidFrom: from}
	assert.True(t, open.ValidAt(until.AddDate(10, 0, 0)))
}

func TestBenchmarkSpecificity(t *testing.T) {
	owner := int64(7)

	assert.Equal(t, 0, (&Benchmark{}).Specificity())
	assert.Equal(t, 1, (&Benchmark{Region: "us-east-1"}).Specificity())
	assert.Equal(t, 2, (&Benchmark{OwnerID: &owner}).Specificity())
	assert.Equal(t, 3, (&Benchmark{OwnerID: &owner, Region: "us-east-1"}).Specificity())
}

func TestDecisionStatus(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name     string
		decision Decision
		want     string
	}{
		{name: "fresh decision", decision: Decision{}, want: "pending"},
		{name: "approved", decision: Decision{ApprovedAt: &now}, want: "approved"},
		{name: "executed", decision: Decision{ApprovedAt: &now, ExecutedAt: &now}, want: "executed"},
		{name: "dismissed wins over approval", decision: Decision{ApprovedAt: &now, DismissedAt: &now}, want: "dismissed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.decision.Status())
		})
	}
}
