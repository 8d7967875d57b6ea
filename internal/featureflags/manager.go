// Package featureflags evaluates rollout flags from configuration.
package featureflags

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Flags consulted by the chat gateway.
const (
	TypingIndicators = "typing_indicators"
	PresenceMirror   = "presence_mirror"
)

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "typing_indicators=on,presence_mirror=25%"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = normalize(key)
		value = normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled reports whether a flag is on for userID.
// Values are on/true/1, off/false/0, or N% for a deterministic per-user
// rollout. Percentage rollouts are off for anonymous callers.
func (m *Manager) Enabled(name, userID string) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if userID == "" {
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Names returns the configured flag names in sorted order.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.flags))
	for name := range m.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID string) map[string]bool {
	out := make(map[string]bool)
	for _, name := range m.Names() {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + userID))
	return int(h.Sum32() % 100)
}
