package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetAbsent(t *testing.T) {
	m := NewMemory()
	raw, err := m.Get(context.Background(), "attendance")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestMemory_AppendGeneratesDistinctKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	k1, err := m.Append(ctx, "attendance", map[string]string{"id": "1"})
	require.NoError(t, err)
	k2, err := m.Append(ctx, "attendance", map[string]string{"id": "2"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	raw, err := m.Get(ctx, "attendance")
	require.NoError(t, err)
	var docs map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &docs))
	assert.Len(t, docs, 2)
}

func TestMemory_AppendConvertsArrayShape(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "attendance", json.RawMessage(`[{"id":"1"},{"id":"2"}]`)))

	_, err := m.Append(ctx, "attendance", map[string]string{"id": "3"})
	require.NoError(t, err)

	raw, err := m.Get(ctx, "attendance")
	require.NoError(t, err)
	var docs map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &docs))
	assert.Len(t, docs, 3)
	// Legacy array elements keep their positional keys.
	assert.Contains(t, docs, "0")
	assert.Contains(t, docs, "1")
}
