package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexBatchPreservesKeyOrder(t *testing.T) {
	raw := `{
		"zeta":  [{"id":1,"author":"a","channel":"c","content":"x","created_at":"t1","jump_url":"u1"}],
		"alpha": [{"id":2,"author":"b","channel":"c","content":"y","created_at":"t2","jump_url":"u2"},
		          {"id":3,"author":"b","channel":"c","content":"z","created_at":"t3","jump_url":"u3"}],
		"mid":   []
	}`

	var batch IndexBatch
	require.NoError(t, json.Unmarshal([]byte(raw), &batch))
	require.Len(t, batch, 3)

	assert.Equal(t, "zeta", batch[0].Term)
	assert.Equal(t, "alpha", batch[1].Term)
	assert.Equal(t, "mid", batch[2].Term)

	require.Len(t, batch[1].Messages, 2)
	assert.Equal(t, int64(2), batch[1].Messages[0].ID)
	assert.Equal(t, "u3", batch[1].Messages[1].JumpURL)
	assert.Empty(t, batch[2].Messages)
}

func TestIndexBatchRejectsNonObject(t *testing.T) {
	var batch IndexBatch
	err := json.Unmarshal([]byte(`["a","b"]`), &batch)
	require.Error(t, err)
}

func TestIndexBatchRoundTrips(t *testing.T) {
	in := IndexBatch{
		{Term: "b term", Messages: []IncomingMessage{{ID: 1, Author: "a"}}},
		{Term: "a term", Messages: nil},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out IndexBatch
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "b term", out[0].Term)
	assert.Equal(t, "a term", out[1].Term)
}
