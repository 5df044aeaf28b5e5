package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// graphNode is one vertex of the merged ComfyUI document: the prompt
// document's class_type/inputs/_meta plus the workflow document's
// widgets_values for the same node id.
type graphNode struct {
	id            string
	classType     string
	title         string
	inputs        map[string]any
	widgetsValues []any
}

// promptGraph holds the prompt document's nodes in document order. The order
// nodes appear in the JSON text is part of the resolution contract, so the
// document is decoded token by token rather than through an unordered map.
type promptGraph struct {
	nodes []*graphNode
	byID  map[string]*graphNode
}

type graphNodeJSON struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	// widgets_values is a list in every dialect we care about, but newer
	// workflow files sometimes write an object; decode loosely and keep
	// only the list form.
	WidgetsValues any `json:"widgets_values"`
	Meta          struct {
		Title string `json:"title"`
	} `json:"_meta"`
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}

func decodePromptGraph(raw string) (*promptGraph, error) {
	dec := json.NewDecoder(strings.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("prompt document is not a JSON object")
	}

	g := &promptGraph{byID: make(map[string]*graphNode)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		id, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v in prompt document", keyTok)
		}

		var rawNode json.RawMessage
		if err := dec.Decode(&rawNode); err != nil {
			return nil, err
		}

		// Entries that are not objects carry no node data.
		trimmed := bytes.TrimSpace(rawNode)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			continue
		}
		var nj graphNodeJSON
		if err := json.Unmarshal(rawNode, &nj); err != nil {
			continue
		}

		node := &graphNode{
			id:            id,
			classType:     nj.ClassType,
			title:         nj.Meta.Title,
			inputs:        nj.Inputs,
			widgetsValues: asList(nj.WidgetsValues),
		}
		g.nodes = append(g.nodes, node)
		g.byID[id] = node
	}
	return g, nil
}

// workflowDocument carries the subset of the workflow JSON the resolver
// needs: node ids and their positional widget values.
type workflowDocument struct {
	Nodes []workflowNode `json:"nodes"`
}

type workflowNode struct {
	ID            any `json:"id"`
	WidgetsValues any `json:"widgets_values"`
}

func (n workflowNode) idString() string {
	switch t := n.ID.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// mergeWorkflow copies widgets_values from the workflow document into the
// matching prompt-document nodes by identical id.
func (g *promptGraph) mergeWorkflow(doc *workflowDocument) {
	for _, wn := range doc.Nodes {
		id := wn.idString()
		widgets := asList(wn.WidgetsValues)
		if id == "" || len(widgets) == 0 {
			continue
		}
		if node, ok := g.byID[id]; ok {
			node.widgetsValues = widgets
		}
	}
}

// parseComfyUI resolves prompt text and generation parameters from the
// workflow/prompt chunk pair.
func parseComfyUI(chunks map[string]string, b *Builder, cfg Config) {
	var workflow *workflowDocument
	if workflowStr, ok := chunks["workflow"]; ok {
		var doc workflowDocument
		if err := json.Unmarshal([]byte(workflowStr), &doc); err != nil {
			b.Extra.Set("workflow_raw", truncateText(workflowStr, 1000))
		} else {
			workflow = &doc
			b.Extra.Set("workflow", workflowStr)
		}
	}

	promptStr, ok := chunks["prompt"]
	if !ok {
		return
	}

	graph, err := decodePromptGraph(promptStr)
	if err != nil {
		b.Extra.Set("parse_error", err.Error())
		b.Extra.Set("prompt_raw", truncateText(promptStr, 1000))
		return
	}
	b.Extra.Set("prompt_data", promptStr)

	if workflow != nil {
		graph.mergeWorkflow(workflow)
	}

	resolveGraphPrompt(graph, b, cfg)
	extractGraphParams(graph, b)
}

// resolveGraphPrompt finds the prompt text in three tiers: exact node id,
// then title containment, then a class-type scan of the text encoders. The
// first tier that yields text wins.
func resolveGraphPrompt(g *promptGraph, b *Builder, cfg Config) {
	// Tier A: pinned node id.
	if cfg.PrimaryNodeID != "" {
		if node, ok := g.byID[cfg.PrimaryNodeID]; ok {
			if text := nodeText(node); text != "" {
				b.Prompt = text
				return
			}
		}
	}

	// Tier B: title containment, primary title before alternatives. The
	// first node with any matching title ends the scan, whether or not it
	// yields text.
	var titles []string
	if cfg.PrimaryNodeTitle != "" {
		titles = append(titles, strings.ToLower(cfg.PrimaryNodeTitle))
	}
	for _, alt := range cfg.AltNodeTitles {
		if alt != "" {
			titles = append(titles, strings.ToLower(alt))
		}
	}
	for _, node := range g.nodes {
		title := strings.ToLower(node.title)
		if title == "" {
			continue
		}
		matched := false
		for _, t := range titles {
			if strings.Contains(title, t) {
				matched = true
				break
			}
		}
		if matched {
			if text := nodeText(node); text != "" {
				b.Prompt = text
				return
			}
			break
		}
	}

	// Tier C: scan the CLIP text encoders and classify polarity.
	var positives, negatives []string
	for _, node := range g.nodes {
		if node.classType != "CLIPTextEncode" && node.classType != "CLIPTextEncodeSDXL" {
			continue
		}
		text := unescapeQuotes(newValue(node.inputs["text"]).AsText())

		// The title check is case-insensitive; the literal prefix check
		// is not.
		if strings.Contains(strings.ToLower(node.title), "negative") || strings.HasPrefix(text, "negative:") {
			negatives = append(negatives, strings.TrimSpace(strings.TrimPrefix(text, "negative:")))
		} else {
			positives = append(positives, text)
		}
	}
	if len(positives) > 0 {
		b.Prompt = strings.Join(positives, "\n")
	}
	if len(negatives) > 0 {
		b.NegativePrompt = strings.Join(negatives, "\n")
	}
}

// nodeText reads a node's text, preferring widgets_values[0] (unwrapping one
// nesting level) over inputs.text.
func nodeText(n *graphNode) string {
	if len(n.widgetsValues) > 0 {
		if s, ok := newValue(n.widgetsValues[0]).First().String(); ok && s != "" {
			return unescapeQuotes(s)
		}
	}
	if text, ok := n.inputs["text"]; ok {
		if s, ok := newValue(text).First().String(); ok && s != "" {
			return unescapeQuotes(s)
		}
	}
	return ""
}

// extractGraphParams walks all nodes for sampler, checkpoint and LoRA data.
// When several nodes of the same class exist the last one in document order
// wins.
func extractGraphParams(g *promptGraph, b *Builder) {
	for _, node := range g.nodes {
		switch node.classType {
		case "KSampler", "KSamplerAdvanced":
			steps, _ := newValue(node.inputs["steps"]).Int()
			b.Steps = int(steps)
			cfgScale, _ := newValue(node.inputs["cfg"]).Float()
			b.CFGScale = cfgScale
			seed, _ := newValue(node.inputs["seed"]).Int()
			b.Seed = seed
			b.Sampler = newValue(node.inputs["sampler_name"]).AsText()
		case "CheckpointLoaderSimple", "CheckpointLoader":
			b.Model = newValue(node.inputs["ckpt_name"]).AsText()
		case "LoraLoader", "LoraLoaderModelOnly":
			if name := newValue(node.inputs["lora_name"]).AsText(); name != "" {
				addLora(b, name)
			}
		}
	}
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
