package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Retrieve relevant chunks for a question",
		Long:  "Runs hybrid retrieval against the knowledge store and prints the ranked chunks.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAsk(cmd, args[0], limit, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Maximum number of results")

	return cmd
}

func runAsk(cmd *cobra.Command, query string, limit int, outputJSON bool) error {
	store, err := newStoreClient(cmd)
	if err != nil {
		return err
	}

	results, err := store.Ask(context.Background(), query, limit)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"results": results,
		}, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s (%s)\n", i+1, r.Score, r.ID, r.Source)
		fmt.Printf("   %s\n", r.Content)
	}

	return nil
}
