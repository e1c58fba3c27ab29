package classification

import (
	"github.com/catherinevee/costopt/internal/models"
	"github.com/catherinevee/costopt/internal/rules"
)

// DefaultRules returns the built-in classification rule table. Declaration
// order matters: exact confidence ties resolve to the earlier rule.
func DefaultRules() []Rule {
	return []Rule{
		// Sensitive data
		{
			Name:       "production_database",
			Category:   models.CategorySensitive,
			Confidence: 0.95,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "database"},
				{Field: "tag.environment", Operator: rules.OpContains, Value: []string{"prod", "production"}},
			},
			Explanation: "Production database - contains live application data",
		},
		{
			Name:       "user_data_storage",
			Category:   models.CategorySensitive,
			Confidence: 0.90,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "storage_bucket"},
			},
			AnyConditions: []rules.Condition{
				{Field: "tags_text", Operator: rules.OpContains, Value: "user"},
				{Field: "tags_text", Operator: rules.OpContains, Value: "customer"},
				{Field: "tags_text", Operator: rules.OpContains, Value: "pii"},
				{Field: "tags_text", Operator: rules.OpContains, Value: "personal"},
			},
			Explanation: "Storage containing user or customer data",
		},

		// Archive candidates
		{
			Name:       "old_unused_storage",
			Category:   models.CategoryArchive,
			Confidence: 0.85,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "storage_bucket"},
				{Field: "object_count", Operator: rules.OpGt, Value: 0},
				{Field: "days_since_update", Operator: rules.OpGt, Value: 180},
			},
			Explanation: "Storage bucket not modified in 6+ months - candidate for archival",
		},
		{
			Name:       "stopped_instances",
			Category:   models.CategoryArchive,
			Confidence: 0.80,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "compute_instance"},
				{Field: "running_hours", Operator: rules.OpEq, Value: 0},
			},
			Explanation: "Stopped/stagnant compute instance - candidate for deletion or archival",
		},
		{
			Name:       "dev_test_resources",
			Category:   models.CategoryArchive,
			Confidence: 0.75,
			Conditions: []rules.Condition{
				{Field: "tag.environment", Operator: rules.OpContains, Value: []string{"dev", "test", "staging"}},
				{Field: "days_since_update", Operator: rules.OpGt, Value: 90},
			},
			Explanation: "Development/testing resources inactive for 90+ days",
		},

		// Internal infrastructure
		{
			Name:       "infrastructure_compute",
			Category:   models.CategoryInternal,
			Confidence: 0.85,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpIn, Value: []string{"compute_instance", "serverless_function"}},
				{Field: "tag.purpose", Operator: rules.OpContains, Value: []string{"infra", "infrastructure", "platform"}},
			},
			Explanation: "Infrastructure compute resources (not customer-facing)",
		},
		{
			Name:       "logging_monitoring",
			Category:   models.CategoryInternal,
			Confidence: 0.80,
			AnyConditions: []rules.Condition{
				{Field: "service_type", Operator: rules.OpContains, Value: "log"},
				{Field: "tags_text", Operator: rules.OpContains, Value: "log"},
				{Field: "tags_text", Operator: rules.OpContains, Value: "monitor"},
				{Field: "tags_text", Operator: rules.OpContains, Value: "metric"},
			},
			Explanation: "Logging, monitoring, or observability resources",
		},
		{
			Name:       "network_resources",
			Category:   models.CategoryInternal,
			Confidence: 0.80,
			AnyConditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "network_resource"},
				{Field: "service_type", Operator: rules.OpContains, Value: "vpc"},
			},
			Explanation: "Network infrastructure (VPCs, load balancers, etc.)",
		},

		// Public/shared resources
		{
			Name:       "static_website_assets",
			Category:   models.CategoryPublic,
			Confidence: 0.85,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "storage_bucket"},
				{Field: "tag.purpose", Operator: rules.OpContains, Value: []string{"static", "website", "cdn", "public"}},
			},
			Explanation: "Public static assets or website content",
		},
		{
			Name:       "shared_datasets",
			Category:   models.CategoryPublic,
			Confidence: 0.70,
			Conditions: []rules.Condition{
				{Field: "tag.access", Operator: rules.OpContains, Value: []string{"public", "shared"}},
				{Field: "tag.data_type", Operator: rules.OpContains, Value: []string{"dataset", "analytics"}},
			},
			Explanation: "Shared/public datasets for analytics",
		},

		// Cost-heavy resources needing review
		{
			Name:       "high_cost_storage",
			Category:   models.CategoryInternal,
			Confidence: 0.75,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "storage_bucket"},
				{Field: "size_gb", Operator: rules.OpGt, Value: 1000},
			},
			Explanation: "Large storage bucket (>1TB) - review for optimization opportunities",
		},
		{
			Name:       "underutilized_compute",
			Category:   models.CategoryArchive,
			Confidence: 0.70,
			Conditions: []rules.Condition{
				{Field: "entity_type", Operator: rules.OpEq, Value: "compute_instance"},
				{Field: "running_hours", Operator: rules.OpLt, Value: 100},
			},
			Explanation: "Compute instance running less than 100 hours - consider downsizing",
		},
	}
}
