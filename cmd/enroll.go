package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/faceauth"
	"github.com/kozaktomas/face-auth/internal/fingerprint"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image-dir>",
	Short: "Register a person from a directory of face photos",
	Long: `Register a new identity from the photos in a directory.

Every file in the directory is sent to the face extractor. Files that are not
PNG or JPEG, or in which no face is found, are skipped. At least five usable
photos are required. The classifier is rebuilt once the identity is stored.

Examples:
  # Enroll Ana from ./photos/ana
  face-auth enroll ./photos/ana --name Ana --last-name Perez \
    --email ana@example.com --identifier 0102030405 --password s3cret

  # Output as JSON
  face-auth enroll ./photos/ana ... --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "First name")
	enrollCmd.Flags().String("last-name", "", "Last name")
	enrollCmd.Flags().String("email", "", "Email address (unique)")
	enrollCmd.Flags().String("identifier", "", "National identifier (unique)")
	enrollCmd.Flags().String("password", "", "Password (defaults to FACE_AUTH_PASSWORD)")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

// readImageDir loads every regular file of dir in name order.
func readImageDir(dir string) ([]fingerprint.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var images []fingerprint.Image
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.Size() > constants.MaxImageSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", path, constants.MaxImageSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		images = append(images, fingerprint.Image{Filename: entry.Name(), Data: data})
	}
	return images, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	password := mustGetString(cmd, "password")
	if password == "" {
		password = os.Getenv("FACE_AUTH_PASSWORD")
	}

	images, err := readImageDir(args[0])
	if err != nil {
		return err
	}

	cfg := config.Load()
	ctx := context.Background()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	var bar *progressbar.ProgressBar
	var progress func()
	if !jsonOutput {
		bar = progressbar.NewOptions(len(images),
			progressbar.OptionSetDescription("Extracting faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		progress = func() { bar.Add(1) }
	}

	res, err := eng.enroller(progress).Enroll(ctx, faceauth.EnrollRequest{
		Profile: database.Profile{
			Name:       mustGetString(cmd, "name"),
			LastName:   mustGetString(cmd, "last-name"),
			Email:      mustGetString(cmd, "email"),
			Identifier: mustGetString(cmd, "identifier"),
		},
		Password: password,
		Images:   images,
	})
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"id":          res.Identity.ID,
			"name":        res.Identity.Name,
			"email":       res.Identity.Email,
			"samples":     res.Samples,
			"dropped":     res.Dropped,
			"snapshot_id": res.SnapshotID,
		})
	}

	fmt.Printf("Enrolled %s %s (id %d)\n", res.Identity.Name, res.Identity.LastName, res.Identity.ID)
	fmt.Printf("  Samples stored: %d\n", res.Samples)
	fmt.Printf("  Photos skipped: %d\n", res.Dropped)
	if res.SnapshotID != "" {
		fmt.Printf("  Classifier:     %s\n", res.SnapshotID)
	} else {
		fmt.Printf("  Classifier:     not rebuilt (see logs)\n")
	}
	return nil
}
