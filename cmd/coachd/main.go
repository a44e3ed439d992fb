// Package main implements the coachd daemon.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coachd/internal/monitor"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath      string
	serverURL       string
	monitorInterval time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coachd",
		Short: "Interview coaching session orchestrator",
		Long: `coachd runs interview-coaching sessions. It tracks the interview phase,
issues interventions, and fans candidate turns out to the context, evaluator,
interviewer and synthesis agents.`,
		Version:      version,
		SilenceUsage: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
		Long: `Start the coachd daemon.

Configuration is read from ~/.config/coachd/config.yaml unless --config is
given, then overridden by COACHD_* environment variables.

Examples:
  coachd serve
  coachd serve --config /etc/coachd/config.yaml
  COACHD_NATS_ENABLED=true coachd serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	serve.Flags().StringVar(&configPath, "config", "", "config file path")

	health := &cobra.Command{
		Use:   "health",
		Short: "Check a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.OutOrStdout(), serverURL)
		},
	}
	health.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:9191", "coachd server URL")

	mon := &cobra.Command{
		Use:   "monitor",
		Short: "Live dashboard for a running daemon",
		Long: `Show resident sessions, dispatch rate and circuit breaker state for a
running daemon, refreshed every --interval.

Keys: q quits, r refreshes now.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := tea.NewProgram(monitor.NewModel(serverURL, monitorInterval),
				tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		},
	}
	mon.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:9191", "coachd server URL")
	mon.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "refresh interval")

	ver := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}

	root.AddCommand(serve, health, mon, ver)
	return root
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "coachd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// healthResponse matches the daemon's GET /health body.
type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Breakers struct {
		Degraded []string `json:"degraded"`
		Failed   []string `json:"failed"`
	} `json:"breakers"`
}

func runHealth(w io.Writer, base string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/health")
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(w, "Status:  %s\n", h.Status)
	fmt.Fprintf(w, "Version: %s\n", h.Version)
	for _, k := range h.Breakers.Failed {
		fmt.Fprintf(w, "  open:     %s\n", k)
	}
	for _, k := range h.Breakers.Degraded {
		fmt.Fprintf(w, "  degraded: %s\n", k)
	}
	if h.Status != "ok" {
		return fmt.Errorf("server is %s", h.Status)
	}
	return nil
}
