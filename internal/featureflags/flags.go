// Package featureflags evaluates per-viewer rollout flags configured through
// FEATURE_FLAGS, e.g. "reply_reactions=25%,other=off".
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

type rule struct {
	on      bool
	percent int // -1 when the rule is a plain on/off
}

// Flags is an immutable, parsed flag set. A nil *Flags has every flag off.
type Flags struct {
	rules map[string]rule
}

// Parse reads a comma separated list of name=value pairs. Values are on/off,
// true/false, 1/0 or a rollout percentage such as 25%.
func Parse(raw string) (*Flags, error) {
	f := &Flags{rules: make(map[string]rule)}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name, value = normalize(name), normalize(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("feature flag %q: expected name=value", pair)
		}
		r, err := parseRule(value)
		if err != nil {
			return nil, fmt.Errorf("feature flag %q: %w", name, err)
		}
		f.rules[name] = r
	}
	return f, nil
}

// MustParse is Parse for values already validated at config load.
func MustParse(raw string) *Flags {
	f, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return f
}

func parseRule(value string) (rule, error) {
	switch value {
	case "on", "true", "1":
		return rule{on: true, percent: -1}, nil
	case "off", "false", "0":
		return rule{on: false, percent: -1}, nil
	}
	pctRaw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{}, fmt.Errorf("unsupported value %q", value)
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct < 0 || pct > 100 {
		return rule{}, fmt.Errorf("invalid rollout percentage %q", value)
	}
	return rule{percent: pct}, nil
}

// Enabled reports whether name is on for viewerID. Percentage rollouts are
// deterministic per viewer and never include anonymous viewers (ID 0).
func (f *Flags) Enabled(name string, viewerID uint) bool {
	if f == nil {
		return false
	}
	r, ok := f.rules[normalize(name)]
	if !ok {
		return false
	}
	if r.percent < 0 {
		return r.on
	}
	switch {
	case r.percent == 0:
		return false
	case r.percent == 100:
		return true
	case viewerID == 0:
		return false
	}
	return bucket(name, viewerID) < r.percent
}

// Snapshot evaluates every configured flag for one viewer.
func (f *Flags) Snapshot(viewerID uint) map[string]bool {
	if f == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(f.rules))
	for name := range f.rules {
		out[name] = f.Enabled(name, viewerID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, viewerID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), viewerID)))
	return int(h.Sum32() % 100)
}
