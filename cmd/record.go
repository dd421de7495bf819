package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record an annotated clip without the web server",
	Long: `Enable the camera, record for the given duration and write the result
to a file. The recording is also persisted as the last recording, exactly as
a recording started from the web UI would be.

Examples:
  facecam record --duration 10s
  facecam record --duration 1m --out clip.mjpeg`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().Duration("duration", 5*time.Second, "How long to record")
	recordCmd.Flags().String("out", "", "Output file (defaults to the download file name in the current directory)")
	recordCmd.Flags().Duration("models-timeout", 30*time.Second, "How long to wait for the detection models before recording without annotations (0 to skip)")
}

type stateWatcher interface {
	Subscribe() chan session.State
	Unsubscribe(ch chan session.State)
	State() session.State
}

// waitForModels blocks until the capability load settles or timeout passes.
func waitForModels(ctx context.Context, sess stateWatcher, timeout time.Duration) session.State {
	if timeout <= 0 {
		return sess.State()
	}
	ch := sess.Subscribe()
	defer sess.Unsubscribe(ch)

	settled := func(st session.State) bool { return st.ModelsReady || st.LoadFailed }
	if st := sess.State(); settled(st) {
		return st
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case st, ok := <-ch:
			if !ok || settled(st) {
				return sess.State()
			}
		case <-timer.C:
			return sess.State()
		case <-ctx.Done():
			return sess.State()
		}
	}
}

func runRecord(cmd *cobra.Command, args []string) error {
	duration := mustGetDuration(cmd, "duration")
	if duration <= 0 {
		return errors.New("--duration must be positive")
	}
	modelsTimeout := mustGetDuration(cmd, "models-timeout")
	out := mustGetString(cmd, "out")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, config.Load())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}()

	fmt.Println("Enabling camera...")
	if _, err := a.studio.Enable(ctx); err != nil {
		return fmt.Errorf("failed to enable camera: %w", err)
	}

	if st := waitForModels(ctx, a.studio, modelsTimeout); !st.ModelsReady {
		fmt.Println("Warning: detection models not ready, recording without annotations")
	}

	if _, err := a.studio.StartRecording(ctx); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	bar := progressbar.NewOptions64(duration.Milliseconds(),
		progressbar.OptionSetDescription("Recording"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	started := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	interrupted := false
loop:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			break loop
		case <-ticker.C:
			elapsed := time.Since(started)
			_ = bar.Set64(min(elapsed.Milliseconds(), duration.Milliseconds()))
			if elapsed >= duration {
				break loop
			}
		}
	}
	ticker.Stop()
	_ = bar.Finish()
	fmt.Println()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := a.studio.StopRecording(stopCtx); err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}
	if err := a.studio.WaitIdle(stopCtx); err != nil {
		return fmt.Errorf("recording did not finalize: %w", err)
	}

	dl, err := a.studio.Download()
	if err != nil {
		return fmt.Errorf("failed to get recording: %w", err)
	}
	if out == "" {
		out = dl.Filename
	}
	if err := os.WriteFile(out, dl.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	abs, _ := filepath.Abs(out)
	fmt.Printf("Saved %d bytes (%s) to %s\n", len(dl.Data), dl.MIME, abs)
	if interrupted {
		fmt.Println("Recording was interrupted early")
	}
	if st := a.studio.State(); st.LastError != "" {
		fmt.Printf("Last error: %s\n", st.LastError)
	}
	return nil
}
