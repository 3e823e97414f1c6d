// Package cmd implements the tutor CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Tutor - RAG backend for an interactive AI textbook",
	Long: `Tutor serves grounded question answering over indexed textbook
content, plus chapter personalization and translation.

Run "tutor serve" to start the HTTP API, or "tutor index <dir>" to chunk,
embed, and index a directory of markdown chapters.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
