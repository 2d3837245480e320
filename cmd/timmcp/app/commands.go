// Package app provides the entry point for the timmcp command-line
// application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/logger"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "timmcp",
	DisableAutoGenTag: true,
	Short:             "MCP server for Terraform module discovery",
	Long: `timmcp is an MCP (Model Context Protocol) server that exposes Terraform
Registry and GitHub repository data as tools for LLM clients. It provides:

- Module search against the Terraform Registry
- Module details: inputs, outputs, resources and versions
- Source repository listing and file content from GitHub

All upstream access goes through a resilient layer with tiered caching,
outbound rate budgets, stale-serving fallback and bounded retry. Settings
come from TIM_-prefixed environment variables with flag overrides.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the timmcp CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Display version information for timmcp",
		Run: func(cmd *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "timmcp %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		},
	}
}
