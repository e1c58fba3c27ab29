package decisions

import (
	"github.com/catherinevee/costopt/internal/models"
	"github.com/catherinevee/costopt/internal/rules"
)

// DefaultRules returns the built-in decision rule table. Rules are grouped
// by resource family; priority breaks ties when a record matches several.
func DefaultRules() []Rule {
	return []Rule{
		// storage optimization
		{
			ID:          "storage_old_unused",
			Name:        "Old Unused Storage",
			Description: "Storage buckets not modified in 12+ months",
			Priority:    10,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "storage_bucket"},
				{Field: "days_since_update", Operator: rules.OpGt, Value: 365},
				{Field: "size_gb", Operator: rules.OpGt, Value: 1},
			},
			Action:                 models.ActionArchive,
			RecommendationTemplate: "Storage bucket '{resource_id}' has not been modified in {days} days. Consider archiving to Glacier/Coldline storage or deleting if no longer needed. Potential savings: ${savings}/month.",
			Confidence:             0.85,
		},
		{
			ID:          "storage_large_infrequent",
			Name:        "Large Infrequent Access Storage",
			Description: "Large storage buckets with infrequent access patterns",
			Priority:    9,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "storage_bucket"},
				{Field: "size_gb", Operator: rules.OpGt, Value: 1000},
				{Field: "storage_class", Operator: rules.OpEq, Value: "STANDARD"},
			},
			Action:                 models.ActionDownsize,
			RecommendationTemplate: "Large storage bucket '{resource_id}' ({size_gb} GB) is in standard tier. Consider moving to Infrequent Access or Archive tier. Potential savings: ${savings}/month.",
			Confidence:             0.80,
		},

		// compute optimization
		{
			ID:          "compute_low_utilization",
			Name:        "Low Utilization Compute",
			Description: "Compute instances with low CPU/memory utilization",
			Priority:    10,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "compute_instance"},
				{Field: "avg_cpu_utilization", Operator: rules.OpLt, Value: 20},
				{Field: "running_hours", Operator: rules.OpGt, Value: 720},
			},
			Action:                 models.ActionDownsize,
			RecommendationTemplate: "Compute instance '{resource_id}' has low utilization ({cpu}%). Consider downsizing to a smaller instance type or using burstable/spot instances. Potential savings: ${savings}/month.",
			Confidence:             0.85,
		},
		{
			ID:          "compute_stopped_long_term",
			Name:        "Long-Term Stopped Instances",
			Description: "Compute instances stopped for more than 30 days",
			Priority:    8,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "compute_instance"},
				{Field: "state", Operator: rules.OpEq, Value: "stopped"},
				{Field: "days_stopped", Operator: rules.OpGt, Value: 30},
			},
			Action:                 models.ActionDelete,
			RecommendationTemplate: "Instance '{resource_id}' has been stopped for {days} days. Consider creating an AMI and terminating the instance to stop paying for EBS storage. Potential savings: ${savings}/month.",
			Confidence:             0.75,
		},
		{
			ID:          "compute_dev_non_business_hours",
			Name:        "Dev Instances Running Off-Hours",
			Description: "Development instances running outside business hours",
			Priority:    7,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "compute_instance"},
				{Field: "environment", Operator: rules.OpContains, Value: "dev"},
				{Field: "running_hours", Operator: rules.OpGt, Value: 168},
			},
			Action:                 models.ActionDownsize,
			RecommendationTemplate: "Development instance '{resource_id}' is running 24/7. Consider implementing auto-start/stop for business hours only. Potential savings: ${savings}/month.",
			Confidence:             0.70,
		},

		// database optimization
		{
			ID:          "db_overprovisioned",
			Name:        "Overprovisioned Database",
			Description: "Databases with low connection count relative to capacity",
			Priority:    8,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "database"},
				{Field: "max_connections", Operator: rules.OpGt, Value: 100},
				{Field: "avg_connections", Operator: rules.OpLt, Value: 10},
			},
			Action:                 models.ActionDownsize,
			RecommendationTemplate: "Database '{resource_id}' is overprovisioned ({max_conn} max, {avg_conn} avg connections). Consider downsizing to a smaller instance class. Potential savings: ${savings}/month.",
			Confidence:             0.75,
		},
		{
			ID:          "db_unused_read_replica",
			Name:        "Unused Read Replica",
			Description: "Read replicas with zero or minimal read activity",
			Priority:    7,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "database"},
				{Field: "is_read_replica", Operator: rules.OpEq, Value: true},
				{Field: "read_iops", Operator: rules.OpLt, Value: 10},
			},
			Action:                 models.ActionDelete,
			RecommendationTemplate: "Read replica '{resource_id}' has minimal read activity. Consider deleting if not needed. Potential savings: ${savings}/month.",
			Confidence:             0.70,
		},

		// cost anomaly
		{
			ID:          "cost_spike_detection",
			Name:        "Cost Spike Detected",
			Description: "Unusual cost increase detected against baseline",
			Priority:    10,
			Conditions: []rules.Condition{
				{Field: "cost_variance_pct", Operator: rules.OpGt, Value: 50},
				{Field: "current_cost", Operator: rules.OpGt, Value: 100},
			},
			Action:                 models.ActionReview,
			RecommendationTemplate: "Cost spike detected for '{resource_id}'. Costs increased by {variance}% compared to baseline. Review recent changes or usage patterns. Potential overcharge: ${savings}/month.",
			Confidence:             0.80,
		},

		// archive candidates
		{
			ID:          "obsolete_resources",
			Name:        "Potentially Obsolete Resources",
			Description: "Resources not accessed in 6+ months with low cost",
			Priority:    5,
			Conditions: []rules.Condition{
				{Field: "days_since_access", Operator: rules.OpGt, Value: 180},
				{Field: "monthly_cost", Operator: rules.OpLt, Value: 50},
			},
			Action:                 models.ActionArchive,
			RecommendationTemplate: "Resource '{resource_id}' has not been accessed in {days} days and costs ${cost}/month. Consider archiving or deleting.",
			Confidence:             0.60,
		},
	}
}
