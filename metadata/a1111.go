package metadata

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// a1111KnownKeys is the fixed parameter vocabulary of the A1111 key-value
// dialect. Declaration order matters: when two keys could match at the same
// position in the parameter line, the earlier-declared key wins.
var a1111KnownKeys = []string{
	"Steps", "Sampler", "CFG scale", "Seed", "Size", "Model", "Model hash",
	"Clip skip", "ENSD", "RNG", "Tiling", "Restore faces", "Hires upscale",
	"Hires steps", "Hires upscaler", "Hires resize", "Denoising strength",
	"Mask blur", "Variation seed", "Variation seed strength",
	"Lora hashes", "TI hashes", "Hashes", "Lora", "Loras", "lora", "Version",
}

// a1111PromptTerminators are the keys that, at the start of a line, end the
// prompt section.
var a1111PromptTerminators = []string{
	"Steps", "Sampler", "CFG scale", "Seed", "Size", "Model", "Model hash",
}

var loraTagPattern = regexp.MustCompile(`<lora:([^:>]+)(?::([^>]*))?>`)

// parseParameters parses the free-text "parameters" dialect: prompt lines,
// an optional "Negative prompt:" line, then a comma-separated key:value tail.
func parseParameters(text string, b *Builder) {
	lines := strings.Split(text, "\n")

	var promptLines []string
	paramStart := len(lines)

scan:
	for i, line := range lines {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "Negative prompt:") {
			_, after, _ := strings.Cut(stripped, ":")
			b.NegativePrompt = strings.TrimSpace(after)
			paramStart = i + 1
			break
		}

		// A line opening with a parameter key ends the prompt section.
		for _, key := range a1111PromptTerminators {
			if strings.HasPrefix(stripped, key+":") {
				paramStart = i
				break scan
			}
		}

		if stripped != "" {
			promptLines = append(promptLines, stripped)
		}
	}

	b.Prompt = strings.Join(promptLines, ", ")

	for _, m := range loraTagPattern.FindAllStringSubmatch(b.Prompt, -1) {
		addLora(b, m[1])
	}

	paramText := strings.TrimSpace(strings.Join(lines[paramStart:], " "))
	if paramText != "" {
		parseParamLine(paramText, b)
	}
}

// parseParamLine segments the parameter tail into key/value pairs and maps
// the recognized ones onto typed record fields.
func parseParamLine(paramText string, b *Builder) {
	fields := segmentParams(paramText)

	for _, key := range fields.Keys() {
		value, _ := fields.Get(key)
		switch key {
		case "Steps":
			if n, err := strconv.Atoi(value); err == nil {
				b.Steps = n
			}
		case "Sampler":
			b.Sampler = value
		case "CFG scale":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				b.CFGScale = f
			}
		case "Seed":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				b.Seed = n
			}
		case "Size":
			w, h, ok := strings.Cut(value, "x")
			if ok {
				wi, werr := strconv.Atoi(strings.TrimSpace(w))
				hi, herr := strconv.Atoi(strings.TrimSpace(h))
				if werr == nil && herr == nil {
					b.Width = wi
					b.Height = hi
				}
			}
		case "Model":
			b.Model = value
		case "Model hash":
			b.ModelHash = value
		default:
			b.Extra.Set(key, value)
		}
	}

	extractLoraParams(b)
}

// segmentParams scans the parameter tail for known keys. Values may contain
// commas and even colons, so a value only ends where another known key
// begins. The leftmost key match wins; on a position tie the earliest
// declared key wins.
func segmentParams(text string) *Params {
	fields := NewParams()
	remaining := text

	for {
		key, pos := findLeftmostKey(remaining)
		if key == "" {
			break
		}

		valueStart := pos + len(key) + 1
		for valueStart < len(remaining) && (remaining[valueStart] == ' ' || remaining[valueStart] == '\t') {
			valueStart++
		}

		end := findValueEnd(remaining[valueStart:], key)

		value := strings.TrimSpace(remaining[valueStart : valueStart+end])
		value = strings.TrimSpace(strings.TrimSuffix(value, ","))
		fields.Set(key, value)

		remaining = remaining[valueStart+end:]
	}

	return fields
}

// findLeftmostKey locates the leftmost "Key:" occurrence of any known key,
// requiring a word boundary before the key. Ties resolve to the earlier
// declared key.
func findLeftmostKey(text string) (string, int) {
	foundKey := ""
	foundPos := -1
	for _, key := range a1111KnownKeys {
		pos := indexKeyWithBoundary(text, key)
		if pos >= 0 && (foundPos == -1 || pos < foundPos) {
			foundPos = pos
			foundKey = key
		}
	}
	return foundKey, foundPos
}

func indexKeyWithBoundary(text, key string) int {
	needle := key + ":"
	from := 0
	for {
		idx := strings.Index(text[from:], needle)
		if idx == -1 {
			return -1
		}
		abs := from + idx
		if abs == 0 || !isWordByte(text[abs-1]) {
			return abs
		}
		from = abs + 1
	}
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// findValueEnd returns the offset in segment where the current value ends:
// the leftmost occurrence of any other known key (with its leading comma and
// whitespace, when present), or the end of the segment.
func findValueEnd(segment, currentKey string) int {
	end := len(segment)
	for _, key := range a1111KnownKeys {
		if key == currentKey {
			continue
		}
		idx := strings.Index(segment, key+":")
		if idx == -1 || idx >= end {
			continue
		}
		// Fold the separating whitespace and comma into the boundary.
		start := idx
		for start > 0 && (segment[start-1] == ' ' || segment[start-1] == '\t') {
			start--
		}
		if start > 0 && segment[start-1] == ',' {
			start--
		}
		if start < end {
			end = start
		}
	}
	return end
}

// extractLoraParams lifts LoRA references out of the extra params. "Lora
// hashes" contributes names and stays put; the Lora/Loras/lora keys are
// consumed entirely, since their content ends up in the loras list.
func extractLoraParams(b *Builder) {
	if hashes, ok := b.Extra.Get("Lora hashes"); ok {
		for _, segment := range strings.Split(hashes, ",") {
			name, _, _ := strings.Cut(segment, ":")
			addLora(b, name)
		}
	}

	for _, key := range []string{"Lora", "Loras", "lora"} {
		value, ok := b.Extra.Get(key)
		if !ok {
			continue
		}
		for _, name := range loraNamesFromValue(value) {
			addLora(b, name)
		}
		b.Extra.Delete(key)
	}
}

// loraNamesFromValue interprets a Lora parameter value, which may be a JSON
// list of names or name-objects, a single name-object, or plain text.
func loraNamesFromValue(value string) []string {
	unescaped := strings.ReplaceAll(value, `\"`, `"`)

	var decoded any
	if err := json.Unmarshal([]byte(unescaped), &decoded); err != nil {
		return []string{value}
	}

	var names []string
	switch t := decoded.(type) {
	case []any:
		for _, item := range t {
			switch it := item.(type) {
			case string:
				names = append(names, it)
			case map[string]any:
				if name, ok := it["name"].(string); ok {
					names = append(names, name)
				}
			}
		}
	case map[string]any:
		if name, ok := t["name"].(string); ok {
			names = append(names, name)
		}
	case string:
		names = append(names, t)
	default:
		names = append(names, value)
	}
	return names
}
