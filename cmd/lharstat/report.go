package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/context-lens/sidecar/internal/session"
)

func writeJSON(cmd *cobra.Command, analyses []session.SessionAnalysis) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(analyses)
}

func writeText(cmd *cobra.Command, analyses []session.SessionAnalysis) {
	out := cmd.OutOrStdout()
	if len(analyses) == 0 {
		fmt.Fprintln(out, "no conversations found")
		return
	}

	for _, a := range analyses {
		label := a.Label
		if label == "" {
			label = "(unlabeled)"
		}
		fmt.Fprintf(out, "conversation %s  %s  %d entries\n", a.ConversationID, label, a.EntryCount)
		fmt.Fprintf(out, "  wall: %s  cache hit rate: %.1f%%\n", a.Timing.Wall, a.Cache.HitRate*100)

		if len(a.Compactions) == 0 {
			fmt.Fprintln(out, "  compactions: none")
		} else {
			fmt.Fprintf(out, "  compactions: %d\n", len(a.Compactions))
			for _, c := range a.Compactions {
				fmt.Fprintf(out, "    seq %d  %s  %d -> %d tokens\n", c.Sequence, c.AgentRole, c.BeforeTokens, c.AfterTokens)
			}
		}

		fmt.Fprintf(out, "  growth blocks: %d\n", len(a.GrowthBlocks))
		for _, b := range a.GrowthBlocks {
			fmt.Fprintf(out, "    seq %d-%d  %d -> %d tokens\n", b.StartSequence, b.EndSequence, b.StartTokens, b.EndTokens)
		}

		fmt.Fprintf(out, "  user turns: %d\n", len(a.UserTurns))
		for _, turn := range a.UserTurns {
			actions := make([]string, 0, len(turn.Path))
			for _, step := range turn.Path {
				actions = append(actions, step.Action)
			}
			fmt.Fprintf(out, "    turn %d  seq %d-%d  %v\n", turn.Index, turn.StartSequence, turn.EndSequence, actions)
		}
		fmt.Fprintln(out)
	}
}
