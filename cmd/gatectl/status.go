package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/pipeline"
)

var (
	statusServerURL string
	statusLimit     int
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recent runs from the gated daemon",
	Long: `Query the gated daemon for recent validation runs.

Examples:
  # Recent runs
  gatectl status

  # One run in full
  gatectl status git-push-1714564800-abcd1234

  # Against a non-default daemon
  gatectl status --server http://build-host:8787`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServerURL, "server", "http://localhost:8787", "gated daemon URL")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	if len(args) == 1 {
		return showRun(client, args[0])
	}
	return showRecent(client)
}

func showRun(client *http.Client, id string) error {
	body, err := get(client, fmt.Sprintf("%s/api/v1/runs/%s", statusServerURL, id))
	if err != nil {
		return err
	}

	var report pipeline.RunReport
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}

	printReport(&report)
	return nil
}

func showRecent(client *http.Client) error {
	body, err := get(client, fmt.Sprintf("%s/api/v1/runs?limit=%d", statusServerURL, statusLimit))
	if err != nil {
		return err
	}

	var runs []pipeline.RunReport
	if err := json.Unmarshal(body, &runs); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("no completed runs")
		return nil
	}

	for _, run := range runs {
		verdict := "PASSED"
		if !run.OverallSuccess {
			verdict = fmt.Sprintf("FAILED (%d critical)", run.CriticalFailures)
		}
		fmt.Printf("  %-40s %-16s %-8s %s\n",
			run.ID, run.Trigger, run.Duration().Round(time.Millisecond), verdict)
	}
	return nil
}

func get(client *http.Client, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gated daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("run not found")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
