package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ExistsCmd creates the exists command.
func ExistsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exists <hash>",
		Short: "Check whether a content hash is already stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runExists(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runExists(cmd *cobra.Command, hash string, outputJSON bool) error {
	store, err := newStoreClient(cmd)
	if err != nil {
		return err
	}

	exists, err := store.ChunkExists(context.Background(), hash)
	if err != nil {
		return fmt.Errorf("existence check failed: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"hash":   hash,
			"exists": exists,
		}, "", "  ")
		fmt.Println(string(output))
	} else if exists {
		fmt.Println("stored")
	} else {
		fmt.Println("not stored")
	}

	return nil
}
