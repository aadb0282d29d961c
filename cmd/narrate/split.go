package main

import (
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/spf13/cobra"
)

func newSplitCommand(_ *globalFlags) *cobra.Command {
	var (
		backendName string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "split [file]",
		Short: "Print the chunks a text is split into for a backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := tts.ParseBackend(backendName)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			chunks, err := ssml.Split(text, backend.Limits())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(chunks)
			}
			for _, c := range chunks {
				marker := ""
				if c.Forced {
					marker = " forced"
				}
				fmt.Fprintf(out, "--- chunk %d (%d chars%s)\n%s\n", c.Index, c.Len(), marker, c.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendName, "backend", "b", "google", "Backend whose limits apply (google, polly, azure)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print chunks as JSON")
	return cmd
}
