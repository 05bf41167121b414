// Command lharstat analyzes a closed LHAR export offline: compactions,
// growth blocks, user turns, and cache hit rate, without a running
// daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/context-lens/sidecar/internal/session"
)

type analyzeOptions struct {
	conversation string
	jsonOutput   bool
}

func main() {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "lharstat <file.jsonl>",
		Short: "Summarize an LHAR export's compactions, turns, and cache usage",
		Long:  "lharstat reads a closed LHAR JSONL export and reports, per conversation, where context was compacted, how the window grew between compactions, where user turns began and ended, and how much traffic hit the prompt cache.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "restrict output to one conversation ID")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the full SessionAnalysis as JSON instead of a text summary")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lharstat:", err)
		os.Exit(1)
	}
}

func runAnalyze(cmd *cobra.Command, path string, opts *analyzeOptions) error {
	headers, records, err := session.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	analyses := session.Analyze(headers, records)
	if opts.conversation != "" {
		analyses = filterConversation(analyses, opts.conversation)
	}

	if opts.jsonOutput {
		return writeJSON(cmd, analyses)
	}
	writeText(cmd, analyses)
	return nil
}

func filterConversation(analyses []session.SessionAnalysis, id string) []session.SessionAnalysis {
	for _, a := range analyses {
		if a.ConversationID == id {
			return []session.SessionAnalysis{a}
		}
	}
	return nil
}
