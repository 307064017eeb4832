// ABOUTME: pack validate subcommand
// ABOUTME: Checks an agent pack against the schema and summarizes its languages and menu

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-concierge/internal/agentpack"
)

func newPackCmd() *cobra.Command {
	packCmd := &cobra.Command{
		Use:   "pack",
		Short: "Work with agent packs",
	}
	packCmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Validate an agent pack file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := agentpack.LoadManifest(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			langs := make([]string, 0, len(m.Languages))
			for lang := range m.Languages {
				langs = append(langs, lang)
			}
			sort.Strings(langs)

			menuIDs := make([]string, 0, len(m.Flows.Menu.Items))
			for _, item := range m.Flows.Menu.Items {
				menuIDs = append(menuIDs, item.ID)
			}

			fmt.Fprintf(out, "agent pack %q is valid\n", m.Metadata.ID)
			fmt.Fprintf(out, "  languages: %s\n", strings.Join(langs, ", "))
			fmt.Fprintf(out, "  menu:      %s\n", strings.Join(menuIDs, ", "))
			return nil
		},
	})
	return packCmd
}
