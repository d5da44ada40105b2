package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tally/internal/api"
)

const submitPollInterval = 250 * time.Millisecond

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		processorName string
		jobName       string
		jobType       string
		priority      int
		metaPairs     []string
		wait          bool

		batchSize      int
		timeoutSeconds int
		maxRetries     int
		retryDelayMS   int
		stopOnError    bool
		noRetry        bool
		sequential     bool
	)

	cmd := &cobra.Command{
		Use:   "submit <records-file>",
		Short: "Submit a records file as a batch job",
		Long: `Submit reads survey response records from a file and submits them as one
batch job. The file holds either a JSON array of records or newline-delimited
JSON, one record per line. Pass "-" to read from stdin.

Each record is an object with an "id" and a "fields" map:

  {"id": "resp-001", "fields": {"respondent": "r1", "answer": "yes"}}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return errors.New("no records found in input")
			}

			metadata, err := parseMetadata(metaPairs)
			if err != nil {
				return err
			}

			req := api.SubmitJobRequest{
				Name:      jobName,
				Type:      jobType,
				Processor: processorName,
				Records:   records,
				Metadata:  metadata,
			}
			if req.Name == "" {
				req.Name = defaultJobName(args[0])
			}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}
			req.Config = buildConfigPayload(cmd, batchSize, timeoutSeconds, maxRetries, retryDelayMS, stopOnError, noRetry, sequential)

			return ctx.withClient(func(client *api.Client) error {
				jobID, err := client.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s records)\n", jobID, formatCount(len(records)))
				if !wait {
					return nil
				}
				return waitForJob(cmd, client, jobID)
			})
		},
	}

	cmd.Flags().StringVarP(&processorName, "processor", "p", "", "Processor to run the records through (required)")
	cmd.Flags().StringVarP(&jobName, "name", "n", "", "Human-readable job name (defaults to the file name)")
	cmd.Flags().StringVarP(&jobType, "type", "t", "import", "Job type label")
	cmd.Flags().IntVar(&priority, "priority", 0, "Queue priority, 0 is highest")
	cmd.Flags().StringSliceVar(&metaPairs, "meta", nil, "Job metadata as key=value (repeatable)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish and report the result")

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Items per batch (0 uses the daemon default)")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Per-batch timeout in seconds (0 uses the daemon default)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retries per failed batch (0 uses the daemon default)")
	cmd.Flags().IntVar(&retryDelayMS, "retry-delay-ms", 0, "Base delay between batch retries (0 uses the daemon default)")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "Abort the job after the first exhausted batch")
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "Disable batch retries")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "Run the job in the submitting request instead of the queue")

	_ = cmd.MarkFlagRequired("processor")
	return cmd
}

func buildConfigPayload(cmd *cobra.Command, batchSize, timeoutSeconds, maxRetries, retryDelayMS int, stopOnError, noRetry, sequential bool) *api.JobConfigPayload {
	payload := &api.JobConfigPayload{
		BatchSize:      batchSize,
		TimeoutSeconds: timeoutSeconds,
		MaxRetries:     maxRetries,
		RetryDelayMS:   retryDelayMS,
	}
	changed := batchSize > 0 || timeoutSeconds > 0 || maxRetries > 0 || retryDelayMS > 0

	if cmd.Flags().Changed("stop-on-error") {
		payload.StopOnError = &stopOnError
		changed = true
	}
	if noRetry {
		disabled := false
		payload.RetryOnFailure = &disabled
		changed = true
	}
	if sequential {
		parallel := false
		payload.ParallelProcessing = &parallel
		changed = true
	}

	if !changed {
		return nil
	}
	return payload
}

// readRecords loads records from path, accepting either a JSON array or
// newline-delimited JSON.
func readRecords(path string, stdin io.Reader) ([]api.RecordPayload, error) {
	var reader io.Reader
	if path == "-" {
		reader = stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open records file: %w", err)
		}
		defer file.Close()
		reader = file
	}

	buffered := bufio.NewReader(reader)
	first, err := firstNonSpaceByte(buffered)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read records: %w", err)
	}

	if first == '[' {
		var records []api.RecordPayload
		if err := json.NewDecoder(buffered).Decode(&records); err != nil {
			return nil, fmt.Errorf("parse records array: %w", err)
		}
		return records, nil
	}

	var records []api.RecordPayload
	scanner := bufio.NewScanner(buffered)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record api.RecordPayload
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("parse record on line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

func firstNonSpaceByte(reader *bufio.Reader) (byte, error) {
	for {
		peeked, err := reader.Peek(1)
		if err != nil {
			return 0, err
		}
		switch peeked[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := reader.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return peeked[0], nil
		}
	}
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		metadata[strings.TrimSpace(key)] = value
	}
	return metadata, nil
}

func defaultJobName(path string) string {
	if path == "-" {
		return "stdin import"
	}
	return filepath.Base(path)
}

func waitForJob(cmd *cobra.Command, client *api.Client, jobID string) error {
	stdout := cmd.OutOrStdout()
	lastPercent := -1.0
	for {
		job, err := client.Job(cmd.Context(), jobID)
		if err != nil {
			return err
		}
		if job.Progress.Percentage != lastPercent && job.Result == nil {
			lastPercent = job.Progress.Percentage
			fmt.Fprintf(stdout, "  %s: %s (%s/%s items)\n",
				job.Status,
				formatPercent(job.Progress.Percentage),
				formatCount(job.Progress.Processed),
				formatCount(job.Progress.Total))
		}
		if terminal(job.Status) {
			return reportOutcome(cmd, job)
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(submitPollInterval):
		}
	}
}

func terminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	default:
		return false
	}
}

func reportOutcome(cmd *cobra.Command, job api.JobSummary) error {
	stdout := cmd.OutOrStdout()
	if job.Result == nil {
		fmt.Fprintf(stdout, "Job %s %s\n", job.ID, job.Status)
		if job.Status == "failed" {
			return fmt.Errorf("job %s failed", job.ID)
		}
		return nil
	}

	result := job.Result
	fmt.Fprintf(stdout, "Job %s %s: %s succeeded, %s failed in %s (%.1f items/s)\n",
		job.ID,
		job.Status,
		formatCount(result.SucceededItems),
		formatCount(result.FailedItems),
		formatSeconds(result.DurationSeconds),
		result.Throughput)
	for _, jobErr := range result.Errors {
		fmt.Fprintf(stdout, "  batch %d item %d: %s\n", jobErr.BatchIndex, jobErr.ItemIndex, jobErr.Message)
	}
	if job.Status == "failed" {
		return fmt.Errorf("job %s failed", job.ID)
	}
	return nil
}
