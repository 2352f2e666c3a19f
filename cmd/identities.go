package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "List enrolled identities",
	Long:  `Lists every enrolled identity by ascending id with its number of stored embeddings.`,
	Args:  cobra.NoArgs,
	RunE:  runIdentities,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)

	identitiesCmd.Flags().Bool("json", false, "Output as JSON")
}

type identityRow struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Embeddings int    `json:"embeddings"`
}

func runIdentities(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg := config.Load()
	ctx := context.Background()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	summaries, err := eng.store.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	rows := make([]identityRow, 0, len(summaries))
	for _, s := range summaries {
		vectors, err := eng.store.EmbeddingsFor(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("failed to load embeddings for %d: %w", s.ID, err)
		}
		rows = append(rows, identityRow{ID: s.ID, Name: s.Name, Embeddings: len(vectors)})
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No identities enrolled")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMBEDDINGS")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%d\n", r.ID, r.Name, r.Embeddings)
	}
	return w.Flush()
}
