package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWritePIDFileJSON(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "subdir", "bloodlink.pid")

	info := PIDInfo{
		PID:       os.Getpid(),
		Addr:      "127.0.0.1:3048",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := WritePIDFileJSON(pidPath, info); err != nil {
		t.Fatalf("WritePIDFileJSON failed: %v", err)
	}

	got, err := ReadPIDFileJSON(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFileJSON failed: %v", err)
	}
	if got.PID != info.PID || got.Addr != info.Addr || !got.StartedAt.Equal(info.StartedAt) {
		t.Fatalf("got %+v, want %+v", got, info)
	}
}

func TestReadPIDFileJSONPlainInteger(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "old.pid")
	if err := os.WriteFile(pidPath, []byte("4242\n"), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	got, err := ReadPIDFileJSON(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFileJSON failed: %v", err)
	}
	if got.PID != 4242 {
		t.Fatalf("PID = %d, want 4242", got.PID)
	}
}

func TestReadPIDFileJSONInvalidContent(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(pidPath, []byte("not-a-number\n"), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if _, err := ReadPIDFileJSON(pidPath); err == nil {
		t.Fatal("expected error reading invalid PID file")
	}
}

func TestCheckPIDFileJSON(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "bloodlink.pid")

	running, info, err := CheckPIDFileJSON(pidPath)
	if err != nil {
		t.Fatalf("CheckPIDFileJSON on missing file failed: %v", err)
	}
	if running || info.PID != 0 {
		t.Fatalf("missing file: running=%v info=%+v", running, info)
	}

	if err := WritePIDFileJSON(pidPath, PIDInfo{PID: os.Getpid()}); err != nil {
		t.Fatal(err)
	}
	running, info, err = CheckPIDFileJSON(pidPath)
	if err != nil {
		t.Fatalf("CheckPIDFileJSON failed: %v", err)
	}
	if !running || info.PID != os.Getpid() {
		t.Fatalf("current process: running=%v info=%+v", running, info)
	}

	if err := RemovePIDFile(pidPath); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}
	if err := RemovePIDFile(pidPath); err != nil {
		t.Fatalf("second RemovePIDFile failed: %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Fatal("expected current process to be running")
	}
	if isProcessRunning(999999) {
		t.Fatal("expected non-existent process to not be running")
	}
	if isProcessRunning(0) {
		t.Fatal("expected PID 0 to not be running")
	}
}
