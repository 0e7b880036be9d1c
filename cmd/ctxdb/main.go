// Package main implements the ctxdb CLI for the contextdb HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/contextdb/internal/http"
)

var (
	// serverURL is the base URL for the contextdb HTTP server
	serverURL string
	// jsonOutput prints raw JSON responses instead of formatted text
	jsonOutput bool
	timeout    time.Duration
	// version information
	version = "dev"
)

var (
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	healthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ctxdb",
	Short: "CLI for contextdb HTTP server operations",
	Long: `ctxdb is a command-line interface for the contextdb HTTP server.
It manages databases, adds text and runs semantic searches.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8000", "contextdb server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check contextdb server health",
	Long: `Check the health status of the contextdb HTTP server.

Examples:
  # Check health
  ctxdb health

  # Check health on a different server
  ctxdb health --server http://localhost:9000`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health httpserver.HealthResponse
	if err := apiRequest(cmd, http.MethodGet, "/health", nil, &health); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, health)
	}

	status := healthyStyle.Render(health.Status)
	if health.Status != "online" {
		status = warningStyle.Render(health.Status)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Server Status:"), status)
	if health.Reason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Reason:"), health.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Version:"), health.Version)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d dims)\n", labelStyle.Render("Model:"), health.EmbeddingModel, health.VectorSize)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", labelStyle.Render("Databases:"), health.DatabasesCount)
	if health.Backend != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Backend:"), health.Backend)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", dimStyle.Render(serverURL))
	return nil
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Detail string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Detail)
}

// apiRequest sends body as JSON and decodes a successful response into out.
// It returns the response headers for callers that need them.
func apiRequest(cmd *cobra.Command, method, path string, body, out any) error {
	_, err := apiRequestHeaders(cmd, method, path, body, out)
	return err
}

func apiRequestHeaders(cmd *cobra.Command, method, path string, body, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	url := strings.TrimRight(serverURL, "/") + path
	httpReq, err := http.NewRequestWithContext(cmd.Context(), method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp httpserver.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Detail != "" {
			return nil, &apiError{Status: resp.StatusCode, Detail: errResp.Detail}
		}
		return nil, &apiError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.Header, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isStatus reports whether err is an API error with the given status.
func isStatus(err error, status int) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == status
}
