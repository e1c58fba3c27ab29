package storage

import (
	"context"
	"errors"
	"time"

	"github.com/catherinevee/costopt/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// CostFilter narrows cost record listings
type CostFilter struct {
	Provider    models.CloudProvider
	ServiceType string
	Region      string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	Limit       int
	Offset      int
}

// CostStore persists billing line items
type CostStore interface {
	CreateCostRecord(ctx context.Context, record *models.CostRecord) error
	GetCostRecord(ctx context.Context, id int64) (*models.CostRecord, error)
	ListCostRecords(ctx context.Context, filter CostFilter) ([]*models.CostRecord, error)
}

// BenchmarkStore persists reference cost benchmarks. FindBest resolves the
// most specific active benchmark valid at the given time: owner-scoped
// beats global, region-scoped beats region-agnostic.
type BenchmarkStore interface {
	CreateBenchmark(ctx context.Context, benchmark *models.Benchmark) error
	ListBenchmarks(ctx context.Context) ([]*models.Benchmark, error)
	FindBest(ctx context.Context, serviceType string, provider models.CloudProvider, region string, ownerID *int64, at time.Time) (*models.Benchmark, error)
}
