package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDispatchPriority(t *testing.T) {
	t.Run("workflow outranks parameters", func(t *testing.T) {
		rec := Parse(map[string]string{
			"workflow":   `{"nodes": []}`,
			"parameters": "a cat\nSteps: 20",
		}, 0, 0)

		assert.Equal(t, SourceComfyUI, rec.Source)
		// the A1111 branch must not have run
		assert.Equal(t, "", rec.Prompt)
		assert.Equal(t, 0, rec.Steps)
	})

	t.Run("aodh rides along with graph chunks", func(t *testing.T) {
		rec := Parse(map[string]string{
			"prompt":        samplerGraph,
			"aodh_metadata": `{"parameters": "from aodh\nSteps: 15"}`,
		}, 0, 0)

		assert.Equal(t, SourceComfyUI, rec.Source)
		// the envelope, not the graph resolver, provides everything
		assert.Equal(t, "from aodh", rec.Prompt)
		assert.Equal(t, 15, rec.Steps)
		assert.False(t, rec.Extra.Has("prompt_data"))
	})

	t.Run("aodh alone", func(t *testing.T) {
		rec := Parse(map[string]string{
			"aodh_metadata": `{"parameters": "a cat\nSteps: 12"}`,
		}, 0, 0)

		assert.Equal(t, SourceComfyUI, rec.Source)
		assert.Equal(t, 12, rec.Steps)
	})

	t.Run("parameters alone", func(t *testing.T) {
		rec := Parse(map[string]string{"parameters": "a cat\nSteps: 20"}, 0, 0)

		assert.Equal(t, SourceA1111, rec.Source)
		assert.Equal(t, "a cat", rec.Prompt)
		assert.Equal(t, 20, rec.Steps)
	})
}

func TestParseFallbackChunks(t *testing.T) {
	t.Run("description first", func(t *testing.T) {
		rec := Parse(map[string]string{
			"Description": "a painting",
			"Comment":     "ignored",
		}, 0, 0)

		assert.Equal(t, "a painting", rec.Prompt)
		assert.Equal(t, Source(""), rec.Source)
	})

	t.Run("empty description yields to comment", func(t *testing.T) {
		rec := Parse(map[string]string{
			"Description": "",
			"Comment":     "a comment",
		}, 0, 0)

		assert.Equal(t, "a comment", rec.Prompt)
	})
}

func TestParseRawMetadataDump(t *testing.T) {
	chunks := map[string]string{"parameters": "a cat"}
	rec := Parse(chunks, 0, 0)

	var dumped map[string]string
	require.NoError(t, json.Unmarshal([]byte(rec.RawMetadata), &dumped))
	assert.Equal(t, chunks, dumped)
}

func TestParseDimensionsPassThrough(t *testing.T) {
	rec := Parse(map[string]string{"parameters": "a cat"}, 640, 480)

	assert.Equal(t, 640, rec.Width)
	assert.Equal(t, 480, rec.Height)

	// the Size parameter overrides the container dimensions
	rec = Parse(map[string]string{"parameters": "a cat\nSize: 512x768"}, 640, 480)
	assert.Equal(t, 512, rec.Width)
	assert.Equal(t, 768, rec.Height)
}

func TestParseIdempotence(t *testing.T) {
	chunks := map[string]string{
		"prompt":   samplerGraph,
		"workflow": `{"nodes": [{"id": 6, "widgets_values": ["a cat"]}]}`,
	}

	first := Parse(chunks, 512, 512)
	second := Parse(chunks, 512, 512)
	assert.Equal(t, first, second)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON)
}

func TestParseNeverFails(t *testing.T) {
	t.Run("empty chunk map", func(t *testing.T) {
		rec := Parse(map[string]string{}, 0, 0)

		require.NotNil(t, rec)
		assert.Equal(t, "no metadata text chunks present", rec.RawMetadata)
		assert.Equal(t, Source(""), rec.Source)
	})

	t.Run("nil chunk map", func(t *testing.T) {
		rec := Parse(nil, 0, 0)
		require.NotNil(t, rec)
	})

	t.Run("aodh garbage", func(t *testing.T) {
		rec := Parse(map[string]string{"aodh_metadata": "not json"}, 0, 0)

		require.NotNil(t, rec)
		assert.True(t, rec.Extra.Has("aodh_parse_error"))
	})

	t.Run("broken prompt graph", func(t *testing.T) {
		rec := Parse(map[string]string{"prompt": "{broken"}, 0, 0)

		require.NotNil(t, rec)
		assert.True(t, rec.Extra.Has("parse_error"))
	})
}

func TestParserConcurrentUse(t *testing.T) {
	parser := NewParser(DefaultConfig())
	chunks := map[string]string{"parameters": "a cat\nSteps: 20, Seed: 42"}

	done := make(chan *Record, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- parser.Parse(chunks, 512, 512)
		}()
	}
	want := parser.Parse(chunks, 512, 512)
	for i := 0; i < 8; i++ {
		assert.Equal(t, want, <-done)
	}
}
