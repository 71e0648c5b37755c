package checkpoint

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestCheckpoint() *Checkpoint {
	iter := 2
	return &Checkpoint{
		Iter:      &iter,
		Key:       "export",
		Query:     "project = IT",
		Status:    StatusInProgress,
		DataBlock: []json.RawMessage{json.RawMessage(`"export-1.csv"`)},
		Point:     2,
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := New(t.TempDir(), "export", zerolog.Nop())

	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := New(t.TempDir(), "export", zerolog.Nop())
	want := createTestCheckpoint()

	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, *got.Iter)
	assert.Nil(t, got.Iters)
	assert.Equal(t, want.Query, got.Query)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, 2, got.Point)
	require.Len(t, got.DataBlock, 1)
	assert.JSONEq(t, `"export-1.csv"`, string(got.DataBlock[0]))
}

func TestStore_WireFormat(t *testing.T) {
	s := New(t.TempDir(), "history", zerolog.Nop())
	token := "abc"
	require.NoError(t, s.Save(&Checkpoint{Iters: &token, Key: "history", Query: "q", Status: StatusInProgress}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "abc", raw["iters"])
	assert.NotContains(t, raw, "iter")
	for _, key := range []string{"key", "query", "status", "data_block", "point"} {
		assert.Contains(t, raw, key)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	s := New(t.TempDir(), "export", zerolog.Nop())
	cp := createTestCheckpoint()
	require.NoError(t, s.Save(cp))

	next := 4
	cp.Iter = &next
	cp.Status = StatusComplete
	require.NoError(t, s.Save(cp))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, *got.Iter)
	assert.Equal(t, StatusComplete, got.Status)
}

func TestStore_CorruptFileIsNoCheckpoint(t *testing.T) {
	s := New(t.TempDir(), "export", zerolog.Nop())
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestStore_Clear(t *testing.T) {
	s := New(t.TempDir(), "export", zerolog.Nop())

	t.Run("missing file", func(t *testing.T) {
		assert.NoError(t, s.Clear())
	})

	t.Run("existing file", func(t *testing.T) {
		require.NoError(t, s.Save(createTestCheckpoint()))
		require.NoError(t, s.Clear())

		_, err := os.Stat(s.Path())
		assert.True(t, os.IsNotExist(err))
	})
}
