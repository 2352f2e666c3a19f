package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kozaktomas/face-auth/internal/classifier"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/spf13/cobra"
)

var classifierCmd = &cobra.Command{
	Use:   "classifier",
	Short: "Inspect and rebuild the nearest-neighbour classifier",
}

var classifierRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Refit the classifier over every stored embedding",
	Long: `Refits the classifier from the current store contents and persists the
snapshot to CLASSIFIER_PATH. Rebuilding an unchanged store yields an
equivalent classifier.`,
	Args: cobra.NoArgs,
	RunE: runClassifierRebuild,
}

var classifierInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the installed classifier snapshot",
	Args:  cobra.NoArgs,
	RunE:  runClassifierInspect,
}

func init() {
	rootCmd.AddCommand(classifierCmd)
	classifierCmd.AddCommand(classifierRebuildCmd)
	classifierCmd.AddCommand(classifierInspectCmd)

	classifierInspectCmd.Flags().Bool("json", false, "Output as JSON")
}

type snapshotInfo struct {
	ID         string    `json:"id"`
	BuiltAt    time.Time `json:"built_at"`
	Embeddings int       `json:"embeddings"`
	K          int       `json:"k"`
	Dim        int       `json:"dim"`
	MaxID      int64     `json:"max_embedding_id"`
	Stale      bool      `json:"stale"`
}

func runClassifierRebuild(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	start := time.Now()
	snap, err := eng.cache.Rebuild(ctx)
	if errors.Is(err, classifier.ErrEmptyTrainingSet) {
		fmt.Println("No embeddings enrolled, nothing to train")
		return nil
	}
	if snap == nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	fmt.Printf("Classifier %s trained on %d embeddings in %s\n",
		snap.ID, snap.Size(), time.Since(start).Round(time.Millisecond))
	if cfg.Classifier.Path != "" && err == nil {
		fmt.Printf("  Saved to %s\n", cfg.Classifier.Path)
	}
	return nil
}

func runClassifierInspect(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg := config.Load()
	ctx := context.Background()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	<-eng.warmed
	snap := eng.cache.Snapshot()
	if snap == nil {
		fmt.Println("No classifier snapshot installed")
		return nil
	}
	stale, err := eng.cache.Stale(ctx)
	if err != nil {
		return err
	}

	info := snapshotInfo{
		ID:         snap.ID,
		BuiltAt:    snap.BuiltAt,
		Embeddings: snap.Size(),
		K:          snap.K(),
		Dim:        snap.Dim(),
		MaxID:      snap.Generation.MaxID,
		Stale:      stale,
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("Snapshot:   %s\n", info.ID)
	fmt.Printf("Built:      %s\n", info.BuiltAt.Format(time.RFC3339))
	fmt.Printf("Embeddings: %d (max id %d)\n", info.Embeddings, info.MaxID)
	fmt.Printf("Neighbours: %d\n", info.K)
	fmt.Printf("Dimension:  %d\n", info.Dim)
	fmt.Printf("Stale:      %t\n", info.Stale)
	return nil
}
