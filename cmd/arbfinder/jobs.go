package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloudcurio/arbfinder/internal/agents"
	"github.com/cloudcurio/arbfinder/internal/llm"
	"github.com/cloudcurio/arbfinder/internal/observability"
	"github.com/cloudcurio/arbfinder/internal/store"
)

var jobsCommand = &cobra.Command{
	Use:   "jobs",
	Short: "Manage the AI enrichment job queue",
}

var jobsEnqueueCommand = &cobra.Command{
	Use:   "enqueue <type>",
	Short: "Queue an enrichment job",
	Long: `Queues one enrichment job. The input payload is read from --input
(a JSON file) or --json (inline JSON). Known types: title_enhancer,
metadata_enricher, price_specialist, listing_writer, market_researcher.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsEnqueueCmd,
}

var jobsStatusCommand = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job's state",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatusCmd,
}

var jobsListCommand = &cobra.Command{
	Use:   "list",
	Short: "List jobs, optionally filtered by status",
	RunE:  runJobsListCmd,
}

var jobsWorkCommand = &cobra.Command{
	Use:   "work",
	Short: "Run the agent worker until interrupted",
	Long: `Polls the queue and executes enrichment jobs against the Gemini API.
Requires GEMINI_API_KEY (or --api-key).`,
	RunE: runJobsWorkCmd,
}

var (
	jobsDatabaseURL string
	jobsInputFile   string
	jobsInlineJSON  string
	jobsPriority    string
	jobsStatus      string
	jobsLimit       int
	jobsAPIKey      string
)

func init() {
	jobsCommand.PersistentFlags().StringVar(&jobsDatabaseURL, "db", "", "postgres:// URL or SQLite file path (defaults to DATABASE_URL env var)")

	jobsEnqueueCommand.Flags().StringVarP(&jobsInputFile, "input", "i", "", "Path to a JSON file holding the job input")
	jobsEnqueueCommand.Flags().StringVar(&jobsInlineJSON, "json", "", "Inline JSON job input")
	jobsEnqueueCommand.Flags().StringVar(&jobsPriority, "priority", "normal", "Job priority: high, normal or low")

	jobsListCommand.Flags().StringVar(&jobsStatus, "status", "", "Filter by status: queued, running, completed or failed")
	jobsListCommand.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to show")

	jobsWorkCommand.Flags().StringVar(&jobsAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")

	jobsCommand.AddCommand(jobsEnqueueCommand, jobsStatusCommand, jobsListCommand, jobsWorkCommand)
	rootCmd.AddCommand(jobsCommand)
}

func jobsContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runJobsEnqueueCmd(cmd *cobra.Command, args []string) error {
	ctx := jobsContext(cmd)

	var input json.RawMessage
	switch {
	case jobsInputFile != "" && jobsInlineJSON != "":
		return fmt.Errorf("--input and --json are mutually exclusive; provide only one")
	case jobsInputFile != "":
		data, err := os.ReadFile(jobsInputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		input = data
	case jobsInlineJSON != "":
		input = json.RawMessage(jobsInlineJSON)
	default:
		return fmt.Errorf("either --input or --json is required")
	}
	if !json.Valid(input) {
		return fmt.Errorf("job input is not valid JSON")
	}

	priority := store.JobPriority(jobsPriority)
	switch priority {
	case store.PriorityHigh, store.PriorityNormal, store.PriorityLow:
	default:
		return fmt.Errorf("unknown priority %q", jobsPriority)
	}

	st, err := openStore(ctx, jobsDatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := agents.NewQueue(st).Enqueue(ctx, args[0], input, priority)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Enqueued job %s\n", id)
	return nil
}

func runJobsStatusCmd(cmd *cobra.Command, args []string) error {
	ctx := jobsContext(cmd)

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}

	st, err := openStore(ctx, jobsDatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	job, err := st.GetJob(ctx, id)
	if err != nil {
		return err
	}

	observability.NewPrinter(os.Stdout).PrintJob(job)
	if len(job.Output) > 0 {
		fmt.Fprintf(os.Stdout, "Output: %s\n", string(job.Output))
	}
	return nil
}

func runJobsListCmd(cmd *cobra.Command, _ []string) error {
	ctx := jobsContext(cmd)

	st, err := openStore(ctx, jobsDatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	jobs, err := st.ListJobs(ctx, store.JobStatus(jobsStatus), jobsLimit)
	if err != nil {
		return err
	}

	observability.NewPrinter(os.Stdout).PrintJobList(jobs)
	return nil
}

func runJobsWorkCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(jobsContext(cmd), os.Interrupt)
	defer stop()

	apiKey := jobsAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}

	st, err := openStore(ctx, jobsDatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := llm.NewClient(ctx, nil, apiKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer func() { _ = client.Close() }()

	queue := agents.NewQueue(st)
	runner := agents.NewRunner(queue, agents.NewLLMEnricher(client, llm.TierStandard), agents.RunnerOptions{})

	fmt.Fprintln(os.Stdout, "Worker started; press Ctrl-C to stop")
	if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
