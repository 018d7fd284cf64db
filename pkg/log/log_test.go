package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	WithEngine("bptree").Info().Msg("split leaf")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "bptree", line["engine"])
	assert.Equal(t, "split leaf", line["message"])
}

func TestWithTxnAndCoordinatorID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithTxnID("txn-1").Debug().Msg("begin")
	WithCoordinatorID("coord-1").Debug().Msg("prepare")
	WithWALSegment(7).Debug().Msg("rotate")

	assert.Contains(t, buf.String(), `"txn_id":"txn-1"`)
	assert.Contains(t, buf.String(), `"coordinator_id":"coord-1"`)
	assert.Contains(t, buf.String(), `"wal_segment":7`)
}
