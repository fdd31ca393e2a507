package presence

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStatus(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeStatus(t, filepath.Join(root, "XR-3_1.2.0", "app", "machine_status_main.json"), `{"serial_number": "LM1234"}`)
	writeStatus(t, filepath.Join(root, "ZT_2.0.0", "machine_status.json"), `{"serial_number": " LM5678 ", "model": "ZT-9"}`)
	writeStatus(t, filepath.Join(root, "Broken", "machine_status.json"), `{not json`)
	writeStatus(t, filepath.Join(root, "NoSerial", "machine_status.json"), `{"model": "X"}`)
	writeStatus(t, filepath.Join(root, "loose_file.json"), `{}`)

	var detected []Device
	s := NewScanner([]string{root, filepath.Join(root, "missing")}, func(d Device) { detected = append(detected, d) })

	found := s.Scan()
	assert.Len(t, found, 2)
	require.Len(t, detected, 2)

	devices := s.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "LM1234", devices[0].SerialNumber)
	assert.Equal(t, "XR-3", devices[0].Model)
	assert.Equal(t, filepath.Join(root, "XR-3_1.2.0"), devices[0].InstallPath)
	assert.Equal(t, "LM5678", devices[1].SerialNumber)
	assert.Equal(t, "ZT-9", devices[1].Model)
}

func TestScanReportsOnce(t *testing.T) {
	root := t.TempDir()
	writeStatus(t, filepath.Join(root, "A", "machine_status.json"), `{"serial_number": "LM1234"}`)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	s := NewScanner([]string{root}, func(Device) { calls++ }, WithClock(func() time.Time { return at }))
	s.Scan()
	at = at.Add(time.Minute)
	s.Scan()

	assert.Equal(t, 1, calls)
	assert.Equal(t, at, s.Devices()[0].DetectedAt)
}

func TestModelFromDir(t *testing.T) {
	tests := map[string]string{
		"/opt/XR-3_1.2.0": "XR-3",
		"/opt/Scanner":    "Scanner",
		"/opt/ZT 2":       "ZT",
	}
	for dir, want := range tests {
		assert.Equal(t, want, modelFromDir(dir), dir)
	}
}

func TestRunDetectsNewInstall(t *testing.T) {
	root := t.TempDir()
	detected := make(chan Device, 1)
	var once sync.Once
	s := NewScanner([]string{root}, func(d Device) { once.Do(func() { detected <- d }) }, WithInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	writeStatus(t, filepath.Join(root, "New", "machine_status.json"), `{"serial_number": "LM9999"}`)

	select {
	case d := <-detected:
		assert.Equal(t, "LM9999", d.SerialNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("device not detected")
	}

	cancel()
	assert.NoError(t, <-done)
}
