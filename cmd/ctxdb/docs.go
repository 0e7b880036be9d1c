package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/contextdb/internal/http"
)

var (
	addFile     string
	addMeta     []string
	searchLimit int
	searchMin   float64
)

func init() {
	rootCmd.AddCommand(addCmd, searchCmd)
	addCmd.Flags().StringVarP(&addFile, "file", "f", "", "read text from a file (- for stdin)")
	addCmd.Flags().StringArrayVarP(&addMeta, "meta", "m", nil, "metadata as key=value; values that parse as JSON keep their type")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (server default when unset)")
	searchCmd.Flags().Float64Var(&searchMin, "min-score", 0, "minimum similarity score in [0, 1] (server default when unset)")
}

var addCmd = &cobra.Command{
	Use:   "add <database> [text]",
	Short: "Add text to a database",
	Long: `Add a text document to a database. The database is created on first
use unless the server disables implicit creation.

Examples:
  # Add text directly
  ctxdb add notes "Paris is the capital of France."

  # Add a file with metadata
  ctxdb add notes -f article.txt -m url=https://example.com -m stars=5

  # Add from stdin
  cat article.txt | ctxdb add notes -f -`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAdd,
}

var searchCmd = &cobra.Command{
	Use:   "search <database> <query>",
	Short: "Search a database for similar text",
	Long: `Search a database and print hits ordered by similarity.

Examples:
  ctxdb search notes "capital of France"
  ctxdb search notes "capital of France" --limit 10 --min-score 0.5`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func runAdd(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}
	metadata, err := parseMetadata(addMeta)
	if err != nil {
		return err
	}

	req := httpserver.AddTextRequest{
		DatabaseName: &args[0],
		Text:         &text,
		Metadata:     metadata,
	}
	var resp httpserver.AddTextResponse
	if err := apiRequest(cmd, http.MethodPost, "/add-text", req, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Message, dimStyle.Render("("+resp.DocumentID+")"))
	return nil
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) == 2 && addFile != "":
		return "", fmt.Errorf("pass text as an argument or with --file, not both")
	case len(args) == 2:
		return args[1], nil
	case addFile == "" || addFile == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(addFile)
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", addFile, err)
		}
		return string(data), nil
	}
}

// parseMetadata turns key=value pairs into a metadata object. Values are
// decoded as JSON when possible, so stars=5 is a number and tags=["a"] a list.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[key] = decoded
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args[1:], " ")
	req := httpserver.SearchRequest{
		DatabaseName: &args[0],
		Query:        &query,
	}
	if cmd.Flags().Changed("limit") {
		req.Limit = &searchLimit
	}
	if cmd.Flags().Changed("min-score") {
		req.MinScore = &searchMin
	}

	var results []httpserver.SearchResult
	headers, err := apiRequestHeaders(cmd, http.MethodPost, "/search", req, &results)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, results)
	}

	w := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No results."))
	}
	for i, r := range results {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%d. [%.3f]", i+1, r.Score)), r.Text)
		if src, ok := r.Metadata["url"].(string); ok && src != "" {
			fmt.Fprintf(w, "   %s\n", dimStyle.Render(src))
		}
	}
	if below, _ := strconv.Atoi(headers.Get(httpserver.HeaderSearchBelowThreshold)); below > 0 {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d more below the score threshold", below)))
	}
	return nil
}
