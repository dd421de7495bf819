package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/storage"
)

var lastCmd = &cobra.Command{
	Use:   "last",
	Short: "Export the last persisted recording",
	Long: `Read the last recording from storage and write it to a file.

Examples:
  facecam last
  facecam last --info
  STORAGE_DRIVER=redis STORAGE_URL=redis://localhost:6379/0 facecam last --out clip.mjpeg`,
	RunE: runLast,
}

func init() {
	rootCmd.AddCommand(lastCmd)

	lastCmd.Flags().String("out", "", "Output file (defaults to the download file name in the current directory)")
	lastCmd.Flags().Bool("info", false, "Only print the recording metadata")
}

// lastFilename names an exported artifact the way a download would.
func lastFilename(cfg *config.Config, art *recording.Artifact) string {
	ext := "bin"
	if f, ok := cfg.Formats.Formats[art.MIME]; ok {
		ext = f.Extension
	}
	return recording.Filename(cfg.Recording.FilePrefix, art.CreatedAt, ext)
}

func runLast(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	out := mustGetString(cmd, "out")
	info := mustGetBool(cmd, "info")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kv, err := storage.Open(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer kv.Close()

	art, err := storage.NewArtifacts(kv).Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load recording: %w", err)
	}
	if art == nil {
		fmt.Println("No recording stored.")
		return nil
	}

	fmt.Printf("ID:       %s\n", art.ID)
	fmt.Printf("Format:   %s\n", art.MIME)
	fmt.Printf("Size:     %d bytes\n", len(art.Data))
	fmt.Printf("Recorded: %s\n", art.CreatedAt.Local().Format(time.RFC3339))
	if info {
		return nil
	}

	if out == "" {
		out = lastFilename(cfg, art)
	}
	if err := os.WriteFile(out, art.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Printf("Saved to %s\n", out)
	return nil
}
