package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ClearCmd creates the clear command.
func ClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <source>",
		Short: "Delete all chunks from a source",
		Long:  "Removes every stored chunk whose source label matches, typically before re-ingesting an updated document.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runClear(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runClear(cmd *cobra.Command, source string, outputJSON bool) error {
	store, err := newStoreClient(cmd)
	if err != nil {
		return err
	}

	deleted, err := store.ClearSource(context.Background(), source)
	if err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"source":  source,
			"deleted": deleted,
		}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Deleted %d chunks from %s\n", deleted, source)
	}

	return nil
}
