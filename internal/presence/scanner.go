// Package presence detects installed devices and reports their serial
// numbers so a customer session can start without user input.
package presence

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultInterval is the full rescan period.
	DefaultInterval = 30 * time.Second
	// StatusPattern matches device status files.
	StatusPattern = "machine_status*.json"
)

// Device is an installation found under one of the roots.
type Device struct {
	DetectedAt   time.Time `json:"detectedAt"`
	SerialNumber string    `json:"serialNumber"`
	Model        string    `json:"model"`
	InstallPath  string    `json:"installPath"`
	StatusPath   string    `json:"statusPath"`
}

// Detector reports devices as they appear.
type Detector interface {
	Run(ctx context.Context) error
	Devices() []Device
}

type statusFile struct {
	SerialNumber string `json:"serial_number"`
	Model        string `json:"model"`
}

// Scanner finds devices below install roots. Each install root entry is a
// directory holding a status file either directly or one level down.
type Scanner struct {
	onDetect func(Device)
	now      func() time.Time
	devices  map[string]*Device
	roots    []string
	interval time.Duration
	mu       sync.Mutex
	scanMu   sync.Mutex
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithInterval sets the rescan period.
func WithInterval(d time.Duration) Option { return func(s *Scanner) { s.interval = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scanner) { s.now = now } }

// NewScanner creates a scanner. onDetect runs once per new serial number.
func NewScanner(roots []string, onDetect func(Device), opts ...Option) *Scanner {
	s := &Scanner{
		roots:    roots,
		onDetect: onDetect,
		now:      time.Now,
		devices:  make(map[string]*Device),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	return s
}

// Scan walks the roots once and returns the devices found in this pass.
func (s *Scanner) Scan() []Device {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	var found []Device
	for _, root := range s.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Debug().Err(err).Str("root", root).Msg("Failed to read install root")
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if dev, ok := s.inspect(filepath.Join(root, entry.Name())); ok {
				found = append(found, dev)
			}
		}
	}

	for _, dev := range found {
		s.record(dev)
	}
	return found
}

// inspect looks for a status file in dir or its immediate subdirectories.
func (s *Scanner) inspect(dir string) (Device, bool) {
	candidates, _ := filepath.Glob(filepath.Join(dir, StatusPattern))
	nested, _ := filepath.Glob(filepath.Join(dir, "*", StatusPattern))
	candidates = append(candidates, nested...)
	sort.Strings(candidates)

	for _, path := range candidates {
		serial, model, err := readStatus(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Unreadable status file")
			continue
		}
		if serial == "" {
			continue
		}
		if model == "" {
			model = modelFromDir(dir)
		}
		return Device{
			SerialNumber: serial,
			Model:        model,
			InstallPath:  dir,
			StatusPath:   path,
			DetectedAt:   s.now(),
		}, true
	}
	return Device{}, false
}

func readStatus(path string) (serial, model string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	var st statusFile
	if err := json.Unmarshal(data, &st); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(st.SerialNumber), strings.TrimSpace(st.Model), nil
}

// modelFromDir derives a model name from an install directory such as
// "XR-3_1.2.0": the part before the version separator.
func modelFromDir(dir string) string {
	name := filepath.Base(dir)
	if i := strings.IndexAny(name, "_ "); i > 0 {
		return name[:i]
	}
	return name
}

func (s *Scanner) record(dev Device) {
	s.mu.Lock()
	existing, ok := s.devices[dev.SerialNumber]
	if ok {
		existing.DetectedAt = dev.DetectedAt
		s.mu.Unlock()
		return
	}
	cp := dev
	s.devices[dev.SerialNumber] = &cp
	s.mu.Unlock()

	log.Info().Str("serial", dev.SerialNumber).Str("model", dev.Model).Msg("Device detected")
	if s.onDetect != nil {
		s.onDetect(dev)
	}
}

// Devices returns every device seen so far, by serial number.
func (s *Scanner) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

// Run scans now, on every change below the roots and every interval until
// ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("File watching unavailable, falling back to periodic scans")
	} else {
		defer fsw.Close()
		s.watchRoots(fsw)
	}

	s.Scan()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if fsw != nil {
		events, errs = fsw.Events, fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Scan()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = fsw.Add(ev.Name)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				s.Scan()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Msg("Device watcher error")
		}
	}
}

// watchRoots watches each root and its direct subdirectories.
func (s *Scanner) watchRoots(fsw *fsnotify.Watcher) {
	for _, root := range s.roots {
		if err := fsw.Add(root); err != nil {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				_ = fsw.Add(filepath.Join(root, e.Name()))
			}
		}
	}
}

var _ Detector = (*Scanner)(nil)
