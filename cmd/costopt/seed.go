package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/catherinevee/costopt/internal/models"
)

// seed loads JSON fixture files into the in-memory stores. Each file is
// optional; fixtures stand in for the billing ingestion layer.
func (a *app) seed(ctx context.Context, metadataFile, costsFile, benchmarksFile string) error {
	if metadataFile != "" {
		var records []*models.MetadataRecord
		if err := readJSONFile(metadataFile, &records); err != nil {
			return fmt.Errorf("failed to load metadata records: %w", err)
		}
		for _, r := range records {
			if err := a.memory.CreateMetadataRecord(ctx, r); err != nil {
				return err
			}
		}
	}

	if costsFile != "" {
		var records []*models.CostRecord
		if err := readJSONFile(costsFile, &records); err != nil {
			return fmt.Errorf("failed to load cost records: %w", err)
		}
		for _, r := range records {
			if err := a.memory.CreateCostRecord(ctx, r); err != nil {
				return err
			}
		}
	}

	if benchmarksFile != "" {
		var benchmarks []*models.Benchmark
		if err := readJSONFile(benchmarksFile, &benchmarks); err != nil {
			return fmt.Errorf("failed to load benchmarks: %w", err)
		}
		for _, b := range benchmarks {
			if err := a.memory.CreateBenchmark(ctx, b); err != nil {
				return err
			}
		}
	}

	return nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
