package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplerGraph = `{
	"3": {
		"class_type": "KSampler",
		"inputs": {"steps": 30, "cfg": 7.5, "seed": 123456, "sampler_name": "euler"},
		"_meta": {"title": "KSampler"}
	},
	"4": {
		"class_type": "CheckpointLoaderSimple",
		"inputs": {"ckpt_name": "dreamshaper_8.safetensors"},
		"_meta": {"title": "Load Checkpoint"}
	},
	"6": {
		"class_type": "CLIPTextEncode",
		"inputs": {"text": "a cat"},
		"_meta": {"title": "CLIP Text Encode (Prompt)"}
	},
	"7": {
		"class_type": "CLIPTextEncode",
		"inputs": {"text": "blurry"},
		"_meta": {"title": "Negative Prompt"}
	},
	"10": {
		"class_type": "LoraLoader",
		"inputs": {"lora_name": "styleA.safetensors"},
		"_meta": {"title": "Load LoRA"}
	}
}`

func TestParseComfyUIHeuristicScan(t *testing.T) {
	b := NewBuilder()
	parseComfyUI(map[string]string{"prompt": samplerGraph}, b, DefaultConfig())

	assert.Equal(t, "a cat", b.Prompt)
	assert.Equal(t, "blurry", b.NegativePrompt)
	assert.Equal(t, 30, b.Steps)
	assert.Equal(t, 7.5, b.CFGScale)
	assert.Equal(t, int64(123456), b.Seed)
	assert.Equal(t, "euler", b.Sampler)
	assert.Equal(t, "dreamshaper_8.safetensors", b.Model)
	assert.Equal(t, []string{"styleA.safetensors"}, b.Loras)
	assert.True(t, b.Extra.Has("prompt_data"))
}

func TestParseComfyUITierPrecedence(t *testing.T) {
	// Node 374 exists but carries no text; a title match exists; a CLIP
	// text encoder would also match. Tier B must win and short-circuit C.
	graph := `{
		"374": {"class_type": "Whatever", "inputs": {"text": ""}, "widgets_values": [], "_meta": {"title": "untitled"}},
		"375": {"class_type": "Note", "inputs": {"text": "from tier b"}, "_meta": {"title": "Full Prompt"}},
		"376": {"class_type": "CLIPTextEncode", "inputs": {"text": "from tier c"}, "_meta": {"title": "CLIP Text Encode"}}
	}`

	cfg := DefaultConfig()
	cfg.PrimaryNodeID = "374"
	b := NewBuilder()
	parseComfyUI(map[string]string{"prompt": graph}, b, cfg)

	assert.Equal(t, "from tier b", b.Prompt)
}

func TestParseComfyUINodeIDMatch(t *testing.T) {
	t.Run("widgets value wins over inputs text", func(t *testing.T) {
		graph := `{"374": {"class_type": "X", "inputs": {"text": "from inputs"}, "widgets_values": [["from widgets"]], "_meta": {"title": "Full Prompt"}}}`

		cfg := DefaultConfig()
		cfg.PrimaryNodeID = "374"
		b := NewBuilder()
		parseComfyUI(map[string]string{"prompt": graph}, b, cfg)

		assert.Equal(t, "from widgets", b.Prompt)
	})

	t.Run("empty widgets falls back to inputs text", func(t *testing.T) {
		graph := `{"374": {"class_type": "X", "inputs": {"text": "from inputs"}, "_meta": {"title": "Full Prompt"}}}`

		cfg := DefaultConfig()
		cfg.PrimaryNodeID = "374"
		b := NewBuilder()
		parseComfyUI(map[string]string{"prompt": graph}, b, cfg)

		assert.Equal(t, "from inputs", b.Prompt)
	})
}

func TestParseComfyUIAltTitles(t *testing.T) {
	graph := `{
		"1": {"class_type": "X", "inputs": {"text": "wildcard text"}, "_meta": {"title": "Wildcard Processor"}}
	}`

	cfg := DefaultConfig()
	cfg.AltNodeTitles = []string{"Wildcard"}
	b := NewBuilder()
	parseComfyUI(map[string]string{"prompt": graph}, b, cfg)

	assert.Equal(t, "wildcard text", b.Prompt)
}

func TestParseComfyUITitleMatchStopsScan(t *testing.T) {
	// The first node matching any configured title ends the title scan,
	// even when a later node would match a higher-priority title.
	graph := `{
		"1": {"class_type": "X", "inputs": {"text": "alt text"}, "_meta": {"title": "Alt Node"}},
		"2": {"class_type": "X", "inputs": {"text": "primary text"}, "_meta": {"title": "Full Prompt"}}
	}`

	cfg := DefaultConfig()
	cfg.AltNodeTitles = []string{"Alt Node"}
	b := NewBuilder()
	parseComfyUI(map[string]string{"prompt": graph}, b, cfg)

	assert.Equal(t, "alt text", b.Prompt)
}

func TestParseComfyUIWorkflowMerge(t *testing.T) {
	prompt := `{"374": {"class_type": "X", "inputs": {}, "_meta": {"title": "Full Prompt"}}}`
	workflow := `{"nodes": [{"id": 374, "widgets_values": ["merged text"]}]}`

	cfg := DefaultConfig()
	cfg.PrimaryNodeID = "374"
	b := NewBuilder()
	parseComfyUI(map[string]string{"prompt": prompt, "workflow": workflow}, b, cfg)

	assert.Equal(t, "merged text", b.Prompt)
	assert.True(t, b.Extra.Has("workflow"))
}

func TestParseComfyUINegativeClassification(t *testing.T) {
	t.Run("title containment is case-insensitive", func(t *testing.T) {
		graph := `{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry"}, "_meta": {"title": "NEGATIVE conditioning"}}}`
		b := NewBuilder()
		parseComfyUI(map[string]string{"prompt": graph}, b, DefaultConfig())

		assert.Equal(t, "", b.Prompt)
		assert.Equal(t, "blurry", b.NegativePrompt)
	})

	t.Run("prefix is stripped", func(t *testing.T) {
		graph := `{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "negative: watermark"}, "_meta": {"title": "CLIP Text Encode"}}}`
		b := NewBuilder()
		parseComfyUI(map[string]string{"prompt": graph}, b, DefaultConfig())

		assert.Equal(t, "watermark", b.NegativePrompt)
	})

	t.Run("prefix check is case-sensitive", func(t *testing.T) {
		graph := `{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "Negative: watermark"}, "_meta": {"title": "CLIP Text Encode"}}}`
		b := NewBuilder()
		parseComfyUI(map[string]string{"prompt": graph}, b, DefaultConfig())

		assert.Equal(t, "Negative: watermark", b.Prompt)
		assert.Equal(t, "", b.NegativePrompt)
	})
}

func TestParseComfyUIUnescapesQuotes(t *testing.T) {
	graph := `{"374": {"class_type": "X", "widgets_values": ["a \\\"quoted\\\" cat"], "inputs": {}, "_meta": {"title": "Full Prompt"}}}`

	cfg := DefaultConfig()
	cfg.PrimaryNodeID = "374"
	b := NewBuilder()
	parseComfyUI(map[string]string{"prompt": graph}, b, cfg)

	assert.Equal(t, `a "quoted" cat`, b.Prompt)
}

func TestParseComfyUILastSamplerWins(t *testing.T) {
	graph := `{
		"1": {"class_type": "KSampler", "inputs": {"steps": 10, "cfg": 5, "seed": 1, "sampler_name": "euler"}, "_meta": {"title": "first"}},
		"2": {"class_type": "KSamplerAdvanced", "inputs": {"steps": "25", "cfg": "6.5", "seed": "99", "sampler_name": "dpmpp_2m"}, "_meta": {"title": "second"}}
	}`
	b := NewBuilder()
	parseComfyUI(map[string]string{"prompt": graph}, b, DefaultConfig())

	assert.Equal(t, 25, b.Steps)
	assert.Equal(t, 6.5, b.CFGScale)
	assert.Equal(t, int64(99), b.Seed)
	assert.Equal(t, "dpmpp_2m", b.Sampler)
}

func TestParseComfyUIMalformedDocuments(t *testing.T) {
	t.Run("broken prompt json", func(t *testing.T) {
		b := NewBuilder()
		parseComfyUI(map[string]string{"prompt": "{broken"}, b, DefaultConfig())

		assert.True(t, b.Extra.Has("parse_error"))
		v, _ := b.Extra.Get("prompt_raw")
		assert.Equal(t, "{broken", v)
		assert.False(t, b.Extra.Has("prompt_data"))
	})

	t.Run("broken workflow json keeps prompt parsing", func(t *testing.T) {
		b := NewBuilder()
		parseComfyUI(map[string]string{"prompt": samplerGraph, "workflow": "[oops"}, b, DefaultConfig())

		assert.True(t, b.Extra.Has("workflow_raw"))
		assert.Equal(t, "a cat", b.Prompt)
	})

	t.Run("non-object node entries are skipped", func(t *testing.T) {
		graph := `{"version": 4, "1": {"class_type": "CLIPTextEncode", "inputs": {"text": "a cat"}, "_meta": {"title": "CLIP"}}}`
		b := NewBuilder()
		parseComfyUI(map[string]string{"prompt": graph}, b, DefaultConfig())

		assert.Equal(t, "a cat", b.Prompt)
	})
}

func TestDecodePromptGraphOrder(t *testing.T) {
	// Document order, not lexical id order, drives resolution.
	graph := `{"9": {"class_type": "A", "inputs": {}}, "2": {"class_type": "B", "inputs": {}}, "10": {"class_type": "C", "inputs": {}}}`
	g, err := decodePromptGraph(graph)
	require.NoError(t, err)

	var ids []string
	for _, n := range g.nodes {
		ids = append(ids, n.id)
	}
	assert.Equal(t, []string{"9", "2", "10"}, ids)
}
