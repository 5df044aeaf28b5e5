package metadata

import (
	"regexp"
	"strings"
)

var (
	// trailing "(0.8)" strength suffix
	loraParenStrength = regexp.MustCompile(`\s*\(\s*-?\d+(?:\.\d+)?\s*\)\s*$`)
	// trailing ":0.8" strength suffix
	loraColonStrength = regexp.MustCompile(`\s*:\s*-?\d+(?:\.\d+)?\s*$`)
)

// addLora normalizes raw LoRA name text and appends any new names to the
// builder's list. A single raw string may carry several comma-joined names.
// Names are deduplicated by exact string equality, preserving first-seen
// order.
func addLora(b *Builder, raw string) {
	for _, candidate := range strings.Split(raw, ",") {
		name := strings.Trim(candidate, " \t,")
		name = loraParenStrength.ReplaceAllString(name, "")
		name = loraColonStrength.ReplaceAllString(name, "")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		seen := false
		for _, existing := range b.Loras {
			if existing == name {
				seen = true
				break
			}
		}
		if !seen {
			b.Loras = append(b.Loras, name)
		}
	}
}
