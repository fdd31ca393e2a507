// Package notices manages the YAML catalog of system message texts.
package notices

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys of the built-in notices.
const (
	SessionStarted = "session_started"
	StaffRequested = "staff_requested"
	StaffJoined    = "staff_joined"
	SessionEnded   = "session_ended"
	Disconnected   = "disconnected"
)

// Notice is a system message template. Placeholders are {customer},
// {staff} and {reason}.
type Notice struct {
	Key  string `yaml:"key"`
	Text string `yaml:"text"`
	// Hidden notices go to the store only and are never shown locally.
	Hidden bool `yaml:"hidden"`
}

// Config is the top-level YAML structure.
type Config struct {
	Notices []Notice `yaml:"notices"`
}

// Vars fill a notice's placeholders.
type Vars struct {
	Customer string
	Staff    string
	Reason   string
}

var builtin = []Notice{
	{Key: SessionStarted, Text: "Session initialized - {customer}", Hidden: true},
	{Key: StaffRequested, Text: "Customer {customer} requested staff support"},
	{Key: StaffJoined, Text: "{staff} joined the session"},
	{Key: SessionEnded, Text: "Session ended - {reason}"},
	{Key: Disconnected, Text: "Customer {customer} disconnected"},
}

// Catalog holds notices keyed by name.
type Catalog struct {
	byKey map[string]*Notice
	order []string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{byKey: make(map[string]*Notice, len(builtin))}
	for i := range builtin {
		n := builtin[i]
		c.put(&n)
	}
	return c
}

// Load reads the YAML file at path and overlays it on the built-in notices.
// If the file does not exist, Load returns the defaults (not an error).
func Load(path string) (*Catalog, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Notices {
		n := cfg.Notices[i]
		if n.Key == "" {
			continue
		}
		c.put(&n)
	}
	return c, nil
}

func (c *Catalog) put(n *Notice) {
	if _, ok := c.byKey[n.Key]; !ok {
		c.order = append(c.order, n.Key)
	}
	c.byKey[n.Key] = n
}

// Get returns a notice by key. Returns (nil, false) if not found.
func (c *Catalog) Get(key string) (*Notice, bool) {
	n, ok := c.byKey[key]
	return n, ok
}

// Render fills the placeholders of key. Unknown keys render as the key itself.
func (c *Catalog) Render(key string, v Vars) string {
	n, ok := c.Get(key)
	if !ok {
		return key
	}
	return strings.NewReplacer(
		"{customer}", v.Customer,
		"{staff}", v.Staff,
		"{reason}", v.Reason,
	).Replace(n.Text)
}

// IsHidden reports whether key is store-only.
func (c *Catalog) IsHidden(key string) bool {
	n, ok := c.Get(key)
	return ok && n.Hidden
}

// Keys returns a sorted list of notice keys.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	sort.Strings(keys)
	return keys
}
