package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/faceauth"
	"github.com/kozaktomas/face-auth/internal/fingerprint"
	"github.com/spf13/cobra"
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate <image>",
	Short: "Identify the person in a photo",
	Long: `Identify the person in a single photo against every enrolled embedding.

The closest stored embedding wins when its Euclidean distance is below the
threshold. No session is created.

Examples:
  face-auth authenticate probe.jpg
  face-auth authenticate probe.jpg --threshold 0.5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthenticate,
}

func init() {
	rootCmd.AddCommand(authenticateCmd)

	authenticateCmd.Flags().Float64("threshold", 0, "Override MATCH_THRESHOLD (lower = stricter)")
	authenticateCmd.Flags().Bool("json", false, "Output as JSON")
}

// authenticateOutput is the JSON form of an authentication attempt
type authenticateOutput struct {
	Recognized bool                 `json:"recognized"`
	IdentityID int64                `json:"identity_id,omitempty"`
	Name       string               `json:"name,omitempty"`
	Distance   *float64             `json:"distance"`
	Kind       string               `json:"kind,omitempty"`
	CrossCheck *faceauth.CrossCheck `json:"cross_check,omitempty"`
}

func runAuthenticate(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	cfg := config.Load()
	threshold := cfg.Matching.Threshold
	if t := mustGetFloat64(cmd, "threshold"); t > 0 {
		threshold = t
	}

	ctx := context.Background()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	// One-shot runs wait for the classifier so the cross-check is reported.
	<-eng.warmed

	img := fingerprint.Image{Filename: filepath.Base(args[0]), Data: data}
	res, err := eng.authenticator(threshold).Authenticate(ctx, img, nil)

	var out authenticateOutput
	var ferr *faceauth.Error
	switch {
	case err == nil:
		d := res.Distance
		out = authenticateOutput{
			Recognized: true,
			IdentityID: res.Identity.ID,
			Name:       res.Identity.Name,
			Distance:   &d,
			CrossCheck: res.CrossCheck,
		}
	case errors.As(err, &ferr) && ferr.Kind == faceauth.KindNotRecognized:
		out = authenticateOutput{Kind: string(ferr.Kind)}
		if ferr.HasDistance() {
			d := ferr.Distance
			out.Distance = &d
		}
	default:
		return fmt.Errorf("authentication failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if !out.Recognized {
		if out.Distance == nil {
			fmt.Println("Not recognized: no enrolled faces to compare against")
		} else {
			fmt.Printf("Not recognized: closest distance %.4f (threshold %.4f)\n", *out.Distance, threshold)
		}
		return nil
	}

	fmt.Printf("Recognized %s (id %d) at distance %.4f\n", out.Name, out.IdentityID, *out.Distance)
	if cc := out.CrossCheck; cc != nil {
		verdict := "agrees"
		if !cc.Agreed {
			verdict = fmt.Sprintf("disagrees, votes for id %d", cc.IdentityID)
		}
		fmt.Printf("  Classifier %s %s (%d votes)\n", cc.SnapshotID, verdict, cc.Votes)
	} else {
		fmt.Println("  Classifier cross-check skipped")
	}
	return nil
}
