package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/catherinevee/costopt/internal/cost"
	"github.com/catherinevee/costopt/internal/pipeline"
	"github.com/catherinevee/costopt/internal/storage"
)

func printRunReport(result *pipeline.Result) {
	fmt.Println(color.New(color.Bold).Sprint("Pipeline Run"))
	fmt.Printf("  Classified: %d/%d records (%d errors)\n",
		result.Classification.Classified,
		result.Classification.Processed,
		result.Classification.Errors)
	fmt.Printf("  Cost records analyzed: %d\n", result.CostRecords)
	fmt.Println()

	if len(result.Anomalies) > 0 {
		fmt.Println(color.New(color.Bold).Sprint("Cost Anomalies"))
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Resource", "Service", "Expected", "Actual", "Variance", "Severity"})
		for _, a := range result.Anomalies {
			severity := a.Severity
			switch severity {
			case "high":
				severity = color.RedString(severity)
			case "medium":
				severity = color.YellowString(severity)
			}
			table.Append([]string{
				a.ResourceID,
				a.ServiceType,
				a.ExpectedCost.StringFixed(2),
				a.ActualCost.StringFixed(2),
				a.VariancePct.StringFixed(1) + "%",
				severity,
			})
		}
		table.Render()
		fmt.Println()
	}

	if len(result.Opportunities) > 0 {
		fmt.Println(color.New(color.Bold).Sprint("Savings Opportunities"))
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Resource", "Service", "Monthly Cost", "Potential Savings", "Savings %"})
		for _, o := range result.Opportunities {
			table.Append([]string{
				o.ResourceID,
				o.ServiceType,
				"$" + o.CurrentMonthlyCost.StringFixed(2),
				"$" + o.PotentialSavings.StringFixed(2),
				o.SavingsPct.StringFixed(1) + "%",
			})
		}
		table.Render()
		fmt.Println()
	}

	fmt.Println(color.New(color.Bold).Sprint("Decisions"))
	if len(result.Decisions) == 0 {
		fmt.Println("  No new decisions generated.")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Action", "Confidence", "Est. Savings", "Rule", "Recommendation"})
	for _, d := range result.Decisions {
		savings := "-"
		if d.EstimatedSavingsMonthly != nil {
			savings = "$" + d.EstimatedSavingsMonthly.StringFixed(2) + "/mo"
		}
		table.Append([]string{
			strconv.FormatInt(d.ID, 10),
			string(d.ActionType),
			fmt.Sprintf("%.2f", d.Confidence),
			savings,
			d.RuleID,
			truncateText(d.Recommendation, 60),
		})
	}
	table.Render()
}

// report prints decision and classification statistics
func (a *app) report(ctx context.Context) error {
	stats, err := a.decisionSvc.GetStatistics(ctx)
	if err != nil {
		return err
	}

	fmt.Println(color.New(color.Bold).Sprint("Decision Statistics"))
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Total decisions", strconv.FormatInt(stats.Total, 10)})
	table.Append([]string{"Pending approval", strconv.FormatInt(stats.PendingApproval, 10)})
	table.Append([]string{"Automated executions", strconv.FormatInt(stats.AutomatedExecutions, 10)})
	table.Append([]string{"Webhook deliveries", strconv.FormatInt(stats.WebhookDeliveries, 10)})
	table.Append([]string{"Total estimated savings", "$" + stats.TotalEstimatedSavings.StringFixed(2) + "/mo"})
	table.Render()
	fmt.Println()

	if len(stats.ByStatus) > 0 {
		fmt.Println(color.New(color.Bold).Sprint("By Status"))
		table = tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Status", "Count"})
		for status, count := range stats.ByStatus {
			table.Append([]string{status, strconv.FormatInt(count, 10)})
		}
		table.Render()
		fmt.Println()
	}

	if len(stats.ByActionType) > 0 {
		fmt.Println(color.New(color.Bold).Sprint("By Action"))
		table = tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Action", "Count"})
		for action, count := range stats.ByActionType {
			table.Append([]string{action, strconv.FormatInt(count, 10)})
		}
		table.Render()
		fmt.Println()
	}

	categories, err := a.classifier.Statistics(ctx)
	if err != nil {
		return err
	}
	if len(categories) > 0 {
		fmt.Println(color.New(color.Bold).Sprint("Classifications"))
		table = tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Category", "Count"})
		for category, count := range categories {
			table.Append([]string{string(category), strconv.Itoa(count)})
		}
		table.Render()
	}

	return nil
}

// trends prints cost totals bucketed by the configured calendar granularity
func (a *app) trends(ctx context.Context, granularity string) error {
	records, err := a.memory.ListCostRecords(ctx, storage.CostFilter{})
	if err != nil {
		return err
	}

	g := cost.Granularity(granularity)
	if g == "" {
		g = cost.GranularityMonthly
	}

	points := a.analyzer.CalculateTrends(records, g)
	if len(points) == 0 {
		fmt.Println("No cost records to aggregate.")
		return nil
	}

	fmt.Println(color.New(color.Bold).Sprintf("Cost Trends (%s)", g))
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Period", "Total Cost", "Records"})
	for _, p := range points {
		table.Append([]string{
			p.Period,
			"$" + p.TotalCost.StringFixed(2),
			strconv.Itoa(p.RecordCount),
		})
	}
	table.Render()
	return nil
}

// printRules prints the active decision rule table
func (a *app) printRules() error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Priority", "Action", "Confidence", "Conditions"})
	for _, rule := range a.engine.Rules() {
		conditions := ""
		for i, c := range rule.Conditions {
			if i > 0 {
				conditions += " AND "
			}
			conditions += fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
		}
		table.Append([]string{
			rule.ID,
			strconv.Itoa(rule.Priority),
			string(rule.Action),
			fmt.Sprintf("%.2f", rule.Confidence),
			conditions,
		})
	}
	table.Render()
	return nil
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
