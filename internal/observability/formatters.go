// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudcurio/arbfinder/internal/crawl"
	"github.com/cloudcurio/arbfinder/internal/evaluate"
	"github.com/cloudcurio/arbfinder/internal/store"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintCrawlReport outputs a per-source summary of a finished crawl run.
func (p *Printer) PrintCrawlReport(report *crawl.Report) {
	if report == nil || len(report.Sources) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Query:    %s\n", report.Query))
	sb.WriteString(fmt.Sprintf("Duration: %s\n", report.Duration.Round(10*time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Found:    %d listings\n\n", report.TotalFound()))

	for _, name := range report.SourceNames() {
		sr := report.Sources[name]
		status := "ok"
		if sr.Suspended {
			status = "SUSPENDED"
		}
		sb.WriteString(fmt.Sprintf("%s  [%s]\n", name, status))
		sb.WriteString(fmt.Sprintf("  found %d, skipped %d, errors %d\n",
			sr.ItemsFound, sr.ItemsSkipped, sr.Errors))
	}

	p.printBox("CRAWL REPORT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintOpportunities outputs the top evaluated opportunities.
func (p *Printer) PrintOpportunities(opps []evaluate.Opportunity) {
	if len(opps) == 0 {
		p.printBox("OPPORTUNITIES", "No opportunities found")
		return
	}

	var qualifying int
	for _, opp := range opps {
		if opp.Qualifies {
			qualifying++
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Evaluated %d listings, %d qualify:\n\n", len(opps), qualifying))

	count := min(len(opps), maxItemsToShow)
	for i := 0; i < count; i++ {
		opp := opps[i]
		title := opp.Listing.Title
		if len(title) > 45 {
			title = title[:42] + "..."
		}
		marker := " "
		if opp.Qualifies {
			marker = "★"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", marker, title))
		sb.WriteString(fmt.Sprintf("  $%.2f on %s\n", opp.Listing.Price, opp.Listing.Source))
		if opp.Comp != nil {
			sb.WriteString(fmt.Sprintf("  %.1f%% below comp, est. profit $%.2f\n",
				opp.DiscountPct, opp.EstimatedProfit))
		} else {
			sb.WriteString("  no comp data\n")
		}
		if i < count-1 {
			sb.WriteString("\n")
		}
	}

	if len(opps) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more listings", len(opps)-maxItemsToShow))
	}

	p.printBox("OPPORTUNITIES", sb.String())
}

// PrintComp outputs the aggregate for one canonical comp key.
func (p *Printer) PrintComp(comp *store.Comp) {
	if comp == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Key:     %s\n", comp.CompKey))
	sb.WriteString(fmt.Sprintf("Median:  $%.2f\n", comp.MedianPrice))
	sb.WriteString(fmt.Sprintf("Average: $%.2f\n", comp.AvgPrice))
	sb.WriteString(fmt.Sprintf("Samples: %d\n", comp.Count))
	if !comp.LastUpdated.IsZero() {
		sb.WriteString(fmt.Sprintf("Updated: %s", comp.LastUpdated.Format("2006-01-02 15:04")))
	}

	p.printBox("COMP AGGREGATE", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintJob outputs the state of one agent job.
func (p *Printer) PrintJob(job *store.AgentJob) {
	if job == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:       %s\n", job.ID))
	sb.WriteString(fmt.Sprintf("Type:     %s\n", job.Type))
	sb.WriteString(fmt.Sprintf("Status:   %s (attempt %d)\n", job.Status, job.Attempt))
	sb.WriteString(fmt.Sprintf("Priority: %s\n", job.Priority))
	if job.Error != "" {
		msg := job.Error
		if len(msg) > 45 {
			msg = msg[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("Error:    %s\n", msg))
	}
	if job.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("Finished: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05")))
	}

	p.printBox("AGENT JOB", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintJobList outputs a compact listing of agent jobs.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintJobList(jobs []store.AgentJob) {
	if len(jobs) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "NO JOBS QUEUED")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d jobs:\n\n", len(jobs)))
	for i, job := range jobs {
		sb.WriteString(fmt.Sprintf("%s  %s\n", job.ID.String()[:8], job.Type))
		sb.WriteString(fmt.Sprintf("  %s/%s, attempt %d\n", job.Status, job.Priority, job.Attempt))
		if i < len(jobs)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("AGENT JOBS", sb.String())
}
