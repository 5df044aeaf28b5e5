package metadata

import (
	"encoding/json"
)

// fallbackPromptKeys are scanned, in order, when no known generation tool
// left its chunks behind.
var fallbackPromptKeys = []string{"Description", "Comment", "XML:com.adobe.xmp"}

// Parser extracts metadata records from image text chunks. A Parser is
// stateless and safe for concurrent use.
type Parser struct {
	cfg Config
}

func NewParser(cfg Config) *Parser {
	return &Parser{cfg: cfg}
}

// Parse extracts a metadata record from the chunk-name to text mapping of a
// single image. Exactly one dialect parser runs, chosen by chunk presence:
// ComfyUI graphs first, then the aodh envelope, then the A1111 parameters
// string, then the generic description chunks. Parse is best-effort and
// never fails; malformed input yields a partial record with an error marker
// in the extra params.
func (p *Parser) Parse(chunks map[string]string, width, height int) *Record {
	b := NewBuilder()
	b.Width = width
	b.Height = height

	if len(chunks) == 0 {
		b.RawMetadata = "no metadata text chunks present"
		return b.Build()
	}

	// Keep a verbatim dump of everything we were given, whatever branch
	// runs below.
	if dump, err := json.MarshalIndent(chunks, "", "  "); err == nil {
		b.RawMetadata = string(dump)
	}

	_, hasWorkflow := chunks["workflow"]
	_, hasPrompt := chunks["prompt"]
	aodh, hasAodh := chunks["aodh_metadata"]
	params, hasParams := chunks["parameters"]

	switch {
	case hasWorkflow || hasPrompt:
		b.Source = SourceComfyUI
		if hasAodh {
			parseAodh(aodh, b)
		} else {
			parseComfyUI(chunks, b, p.cfg)
		}
	case hasAodh:
		b.Source = SourceComfyUI
		parseAodh(aodh, b)
	case hasParams:
		b.Source = SourceA1111
		parseParameters(params, b)
	default:
		for _, key := range fallbackPromptKeys {
			if v, ok := chunks[key]; ok && v != "" {
				b.Prompt = v
				break
			}
		}
	}

	return b.Build()
}

// Parse extracts a metadata record using the default configuration.
func Parse(chunks map[string]string, width, height int) *Record {
	return NewParser(DefaultConfig()).Parse(chunks, width, height)
}
