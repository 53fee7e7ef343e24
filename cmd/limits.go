package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/internal/render"
	"github.com/spf13/cobra"
)

const limitsTimeout = 5 * time.Second

func newLimitsCmd() *cobra.Command {
	var (
		baseURL string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show the admission state of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, raw, err := fetchLimits(cmd, baseURL)
			if err != nil {
				return err
			}
			if asJSON {
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.Limits(snap))
			return err
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw snapshot")
	return cmd
}

func fetchLimits(cmd *cobra.Command, baseURL string) (admission.Snapshot, []byte, error) {
	client := &http.Client{Timeout: limitsTimeout}
	req, err := http.NewRequestWithContext(contextOrBackground(cmd.Context()), http.MethodGet,
		strings.TrimRight(baseURL, "/")+"/api/limits", nil)
	if err != nil {
		return admission.Snapshot{}, nil, fmt.Errorf("build limits request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return admission.Snapshot{}, nil, fmt.Errorf("fetch limits: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return admission.Snapshot{}, nil, fmt.Errorf("fetch limits: unexpected status %s", resp.Status)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return admission.Snapshot{}, nil, fmt.Errorf("decode limits: %w", err)
	}
	var snap admission.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return admission.Snapshot{}, nil, fmt.Errorf("decode limits: %w", err)
	}
	return snap, raw, nil
}
