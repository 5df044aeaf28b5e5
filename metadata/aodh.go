package metadata

import (
	"encoding/json"
	"strings"
)

// aodhEnvelope is the proprietary JSON wrapper: an A1111-style parameters
// string plus optional auxiliary data derived from the ComfyUI workflow that
// produced the image. comfyui_metadata and extended_params are mutually
// exclusive shapes; extended_params is the legacy one.
type aodhEnvelope struct {
	Parameters      string         `json:"parameters"`
	ComfyUI         *bool          `json:"comfyui"`
	ComfyUIMetadata map[string]any `json:"comfyui_metadata"`
	ExtendedParams  map[string]any `json:"extended_params"`
	Timestamp       any            `json:"timestamp"`
}

// parseAodh unwraps the aodh_metadata chunk. The embedded parameters string
// is the only source of prompt text and typed fields; the auxiliary objects
// may backfill fields the parameters string left at their defaults, and
// everything else lands in extra params.
func parseAodh(raw string, b *Builder) {
	var env aodhEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.Extra.Set("aodh_parse_error", err.Error())
		return
	}

	if env.Parameters != "" {
		parseParameters(env.Parameters, b)
	}

	if env.ComfyUI != nil {
		if *env.ComfyUI {
			b.Extra.Set("comfyui", "true")
		} else {
			b.Extra.Set("comfyui", "false")
		}
	}

	switch {
	case env.ComfyUIMetadata != nil:
		unwrapComfyUIMetadata(env.ComfyUIMetadata, b)
	case env.ExtendedParams != nil:
		unwrapExtendedParams(env.ExtendedParams, b)
	}

	if env.Timestamp != nil {
		b.Extra.Set("generation_timestamp", newValue(env.Timestamp).AsText())
	}
}

func unwrapComfyUIMetadata(cm map[string]any, b *Builder) {
	copyParam(b, cm, "workflow_name")
	copyParam(b, cm, "workflow_version")

	if gen, ok := cm["generation"].(map[string]any); ok {
		if b.Model == "" {
			if ckpt, ok := newValue(gen["checkpoint"]).String(); ok {
				b.Model = ckpt
			}
		}
		// LoRAs are additive regardless of what the parameters string found.
		switch loras := gen["lora"].(type) {
		case []any:
			for _, item := range loras {
				switch it := item.(type) {
				case string:
					addLora(b, it)
				case map[string]any:
					if name, ok := it["name"].(string); ok {
						addLora(b, name)
					}
				}
			}
		case string:
			addLora(b, loras)
		}
		copyParam(b, gen, "vae")
		copyParam(b, gen, "clip_skip")
	}

	if samp, ok := cm["sampling"].(map[string]any); ok {
		if b.Steps == 0 {
			if n, ok := newValue(samp["steps"]).Int(); ok {
				b.Steps = int(n)
			}
		}
		if b.CFGScale == 0 {
			if f, ok := newValue(samp["cfg_scale"]).Float(); ok {
				b.CFGScale = f
			}
		}
		if b.Seed == 0 {
			if n, ok := newValue(samp["seed"]).Int(); ok {
				b.Seed = n
			}
		}
		if b.Sampler == "" {
			if s, ok := newValue(samp["sampler"]).String(); ok {
				b.Sampler = s
			}
		}
	}

	if res, ok := cm["resolution"].(map[string]any); ok {
		if b.Width == 0 {
			if n, ok := newValue(res["width"]).Int(); ok {
				b.Width = int(n)
			}
		}
		if b.Height == 0 {
			if n, ok := newValue(res["height"]).Int(); ok {
				b.Height = int(n)
			}
		}
		copyParam(b, res, "upscale_factor")
		copyParam(b, res, "upscaler")
		copyParam(b, res, "hires_steps")
		copyParam(b, res, "denoise_strength")
	}

	if ps, ok := cm["prompt_structure"].(map[string]any); ok {
		copyParam(b, ps, "full_positive")
		copyParam(b, ps, "full_negative")
	}

	if pp, ok := cm["post_processing"].(map[string]any); ok {
		copyParam(b, pp, "detailers")
		copyParam(b, pp, "color_match")
	}
}

func unwrapExtendedParams(ep map[string]any, b *Builder) {
	if data, err := json.Marshal(ep); err == nil {
		b.Extra.Set("extended_params", string(data))
	}

	// actual_size backfills dimensions only when both are still unknown.
	if b.Width == 0 && b.Height == 0 {
		if size, ok := newValue(ep["actual_size"]).String(); ok {
			w, h, found := strings.Cut(size, "x")
			if found {
				wv, wok := newValue(strings.TrimSpace(w)).Int()
				hv, hok := newValue(strings.TrimSpace(h)).Int()
				if wok && hok {
					b.Width = int(wv)
					b.Height = int(hv)
				}
			}
		}
	}

	copyParam(b, ep, "base_size")
	copyParam(b, ep, "hires_fix_applied")
	copyParam(b, ep, "detailing_info")
	copyParam(b, ep, "workflow_summary")
	copyParam(b, ep, "resource_usage")
}

// copyParam copies src[key] into the extra params verbatim, JSON-stringified
// when the source value is not a plain string. Absent keys are skipped.
func copyParam(b *Builder, src map[string]any, key string) {
	v, ok := src[key]
	if !ok {
		return
	}
	b.Extra.Set(key, newValue(v).AsText())
}
