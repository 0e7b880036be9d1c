package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/contextdb/internal/http"
)

var missingOK bool

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbListCmd, dbCreateCmd, dbDeleteCmd, dbStatsCmd)
	dbDeleteCmd.Flags().BoolVar(&missingOK, "missing-ok", false, "succeed when the database does not exist")
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage databases",
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List databases",
	Args:  cobra.NoArgs,
	RunE:  runDBList,
}

var dbCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty database",
	Long: `Create an empty database.

Names may contain letters, numbers, spaces, hyphens and underscores.

Examples:
  ctxdb db create research
  ctxdb db create "reading list"`,
	Args: cobra.ExactArgs(1),
	RunE: runDBCreate,
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a database and all of its documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBDelete,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats <name>",
	Short: "Show database statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBStats,
}

var tableHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var tableCellStyle = lipgloss.NewStyle().Padding(0, 1)

func runDBList(cmd *cobra.Command, args []string) error {
	var dbs []httpserver.DatabaseInfo
	if err := apiRequest(cmd, http.MethodGet, "/databases", nil, &dbs); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, dbs)
	}
	if len(dbs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("No databases."))
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "DOCUMENTS", "VECTOR SIZE", "MODEL", "CREATED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
	for _, db := range dbs {
		t.Row(db.Name, strconv.Itoa(db.DocumentCount), strconv.Itoa(db.VectorSize), db.ModelID, db.CreatedAt)
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runDBCreate(cmd *cobra.Command, args []string) error {
	var resp httpserver.MessageResponse
	name := args[0]
	if err := apiRequest(cmd, http.MethodPost, "/databases", httpserver.CreateDatabaseRequest{Name: &name}, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

func runDBDelete(cmd *cobra.Command, args []string) error {
	var resp httpserver.MessageResponse
	err := apiRequest(cmd, http.MethodDelete, "/databases/"+url.PathEscape(args[0]), nil, &resp)
	if err != nil {
		if missingOK && isStatus(err, http.StatusNotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "Database '%s' does not exist\n", args[0])
			return nil
		}
		return err
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

func runDBStats(cmd *cobra.Command, args []string) error {
	var stats httpserver.StatsResponse
	if err := apiRequest(cmd, http.MethodGet, "/databases/"+url.PathEscape(args[0])+"/stats", nil, &stats); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, stats)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Name:"), stats.Name)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", labelStyle.Render("Documents:"), stats.DocumentCount)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", labelStyle.Render("Vector Size:"), stats.VectorSize)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Distance:"), stats.DistanceMetric)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Model:"), stats.Metadata.ModelID)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Created:"), stats.Metadata.CreatedAt)
	return nil
}
