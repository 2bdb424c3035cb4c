package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"agrivoice/internal/domain"
	"agrivoice/internal/ports"
)

func TestMicrophoneReadsAndStops(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'pcm-bytes'\nsleep 2\n")
	session, err := NewMicrophone(script).Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 16)
	n, readErr := session.Read(buf)
	if n <= 0 || !strings.Contains(string(buf[:n]), "pcm") {
		t.Fatalf("expected audio bytes, got %q err=%v", buf[:n], readErr)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
}

func TestMicrophoneEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewMicrophone(script).Start(ctx, ports.AudioConfig{})
	if err == nil || !strings.Contains(err.Error(), "exited before capture started") {
		t.Fatalf("unexpected error: %v", err)
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("a missing device is not a permission failure")
	}
}

func TestMicrophonePermissionDenied(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "denied.sh", "#!/usr/bin/env bash\necho 'default: Permission denied' 1>&2\nexit 1\n")
	_, err := NewMicrophone(script).Start(context.Background(), ports.AudioConfig{})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestCaptureArgsDefaults(t *testing.T) {
	t.Parallel()

	got := captureArgs(ports.AudioConfig{InputFormat: "alsa", InputDevice: "hw:1"})
	want := []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", "alsa", "-i", "hw:1",
		"-ac", "1", "-ar", "16000",
		"-f", "s16le", "-",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestIgnoreExitStatus(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := ignoreExitStatus(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
