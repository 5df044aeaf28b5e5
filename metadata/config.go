package metadata

// Config controls how the ComfyUI graph resolver locates the prompt node.
// It is read-only during a parse; callers may share one Config across
// concurrent calls.
type Config struct {
	// PrimaryNodeID pins prompt resolution to an exact node id. Optional;
	// supersedes title matching when set.
	PrimaryNodeID string

	// PrimaryNodeTitle is matched (case-insensitive containment) against
	// node titles before any alternatives.
	PrimaryNodeTitle string

	// AltNodeTitles are fallback titles, tried in order after the primary.
	AltNodeTitles []string
}

// DefaultConfig mirrors the viewer's stock settings.
func DefaultConfig() Config {
	return Config{
		PrimaryNodeTitle: "Full Prompt",
	}
}
