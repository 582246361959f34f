package wal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Seq  int    `json:"seq"`
	Note string `json:"note"`
}

func readRecords(t *testing.T, w *WAL) []record {
	t.Helper()
	var out []record
	err := w.ReadAll(func(raw []byte) error {
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestWAL_WriteAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(record{Seq: 1, Note: "a"}))
	require.NoError(t, w.Write(record{Seq: 2, Note: "b"}))
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []record{{1, "a"}, {2, "b"}}, readRecords(t, w))

	// 重放後可繼續追加
	require.NoError(t, w.Write(record{Seq: 3}))
	assert.Len(t, readRecords(t, w), 3)
}

func TestWAL_IgnoresTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"seq\":1,\"note\":\"ok\"}\n{\"seq\":2,\"no"), 0600))

	w, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []record{{1, "ok"}}, readRecords(t, w))

	// 恢復後的新紀錄不能接在殘缺的位元組後面
	require.NoError(t, w.Write(record{Seq: 3, Note: "after"}))
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, []record{{1, "ok"}, {3, "after"}}, readRecords(t, w))
}

func TestWAL_TornFirstRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"seq\":1,"), 0600))

	w, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, readRecords(t, w))
	require.NoError(t, w.Write(record{Seq: 2, Note: "first"}))
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, []record{{2, "first"}}, readRecords(t, w))
}

func TestWAL_EmptyFile(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	defer w.Close()

	assert.Empty(t, readRecords(t, w))
}
