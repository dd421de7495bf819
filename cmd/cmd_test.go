package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecam/internal/camera"
	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/session"
)

func TestNewDevice(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CameraConfig
		want    string
		wantErr bool
	}{
		{"pattern", config.CameraConfig{Device: "pattern", Width: 64, Height: 48, FPS: 5}, "pattern", false},
		{"mjpeg", config.CameraConfig{Device: "mjpeg", URL: "http://cam.local/stream"}, "mjpeg", false},
		{"mjpeg without url", config.CameraConfig{Device: "mjpeg"}, "", true},
		{"unknown", config.CameraConfig{Device: "v4l2"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := newDevice(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Name() != tt.want {
				t.Errorf("expected device %q, got %q", tt.want, d.Name())
			}
			if tt.want == "pattern" {
				if _, ok := d.(*camera.PatternDevice); !ok {
					t.Errorf("expected *camera.PatternDevice, got %T", d)
				}
			}
		})
	}
}

func TestLastFilename(t *testing.T) {
	cfg := config.Load()
	cfg.Recording.FilePrefix = "clip"
	created := time.Date(2026, 3, 4, 5, 6, 7, 891_000_000, time.UTC)

	got := lastFilename(cfg, &recording.Artifact{MIME: recording.MIMEMotionJPEG, CreatedAt: created})
	if got != "clip-20260304-050607.891.mjpeg" {
		t.Errorf("unexpected filename %q", got)
	}

	got = lastFilename(cfg, &recording.Artifact{MIME: "application/x-unknown", CreatedAt: created})
	if got != "clip-20260304-050607.891.bin" {
		t.Errorf("unexpected filename for unknown format %q", got)
	}
}

type fakeWatcher struct {
	state session.State
	ch    chan session.State
}

func (f *fakeWatcher) Subscribe() chan session.State      { return f.ch }
func (f *fakeWatcher) Unsubscribe(ch chan session.State) {}
func (f *fakeWatcher) State() session.State               { return f.state }

func TestWaitForModels(t *testing.T) {
	t.Run("already ready", func(t *testing.T) {
		w := &fakeWatcher{state: session.State{ModelsReady: true}, ch: make(chan session.State)}
		if st := waitForModels(context.Background(), w, time.Hour); !st.ModelsReady {
			t.Error("expected ready state")
		}
	})

	t.Run("becomes ready", func(t *testing.T) {
		w := &fakeWatcher{ch: make(chan session.State, 1)}
		go func() {
			w.ch <- session.State{LoadFailed: true}
		}()
		st := waitForModels(context.Background(), w, time.Hour)
		if st.ModelsReady {
			t.Error("expected state from watcher, not ready")
		}
	})

	t.Run("times out", func(t *testing.T) {
		w := &fakeWatcher{ch: make(chan session.State)}
		start := time.Now()
		waitForModels(context.Background(), w, 20*time.Millisecond)
		if time.Since(start) > time.Second {
			t.Error("expected timeout to bound the wait")
		}
	})

	t.Run("skip", func(t *testing.T) {
		w := &fakeWatcher{ch: make(chan session.State)}
		waitForModels(context.Background(), w, 0)
	})
}

func TestMustGet(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Duration("duration", 5*time.Second, "")
	cmd.Flags().String("out", "clip.mjpeg", "")

	if got := mustGetDuration(cmd, "duration"); got != 5*time.Second {
		t.Errorf("expected 5s, got %v", got)
	}
	if got := mustGetString(cmd, "out"); got != "clip.mjpeg" {
		t.Errorf("expected clip.mjpeg, got %q", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for an undefined flag")
		}
	}()
	mustGetInt(cmd, "missing")
}
