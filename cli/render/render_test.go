package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Source string `json:"source"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "JSON", "table", "yaml"} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Format(""), f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, &buf)
	require.NoError(t, r.Render(row{Source: "paypal", Status: "synced", Count: 12}))

	var decoded row
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "paypal", decoded.Source)
	assert.Equal(t, 12, decoded.Count)
}

func TestRenderTableSlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)
	require.NoError(t, r.Render([]row{
		{Source: "paypal", Status: "synced", Count: 12},
		{Source: "eventbrite", Status: "failed_retryable", Count: 2},
	}))

	out := buf.String()
	assert.Contains(t, out, "source")
	assert.Contains(t, out, "paypal")
	assert.Contains(t, out, "failed_retryable")
}

func TestRenderTableEmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)
	require.NoError(t, r.Render([]row{}))
	assert.Contains(t, buf.String(), "(no results)")
}

func TestRenderTableStruct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)
	require.NoError(t, r.Render(row{Source: "paypal", Status: "synced", Count: 3}))

	out := buf.String()
	assert.Contains(t, out, "source:")
	assert.Contains(t, out, "paypal")
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, &buf)
	require.NoError(t, r.Render(row{Source: "paypal", Status: "synced", Count: 1}))
	assert.True(t, strings.Contains(buf.String(), "source: paypal"))
}
