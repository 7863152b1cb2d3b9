package analyze

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatscan/beatscan-go/internal/model"
)

func sampleResult() *model.ParseResult {
	return &model.ParseResult{
		Beats: []model.Beat{
			{Timestamp: 0.5, Confidence: 0.9, Strength: 1.2},
			{Timestamp: 1.0, Confidence: 0.8, Strength: 0.7},
		},
		Tempo: model.Tempo{
			BPM:           120,
			Confidence:    0.85,
			TimeSignature: &model.TimeSignature{Numerator: 4, Denominator: 4},
		},
	}
}

func TestWriteResultJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, sampleResult(), "json"))

	decoded := &model.ParseResult{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), decoded))
	assert.InDelta(t, 120.0, decoded.Tempo.BPM, 1e-9)
	assert.Len(t, decoded.Beats, 2)
}

func TestWriteResultCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, sampleResult(), "csv"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,confidence,strength,bpm", lines[0])
	assert.Equal(t, "0.500,0.90,1.200,120.0", lines[1])
	assert.Equal(t, "1.000,0.80,0.700,120.0", lines[2])
}

func TestWriteResultTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, sampleResult(), ""))

	out := buf.String()
	assert.Contains(t, out, "120.0 BPM")
	assert.Contains(t, out, "TIMESTAMP")
	assert.Contains(t, out, "0.500s")
}
