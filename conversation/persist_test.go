package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent_a.json")

	b := New("agent_a")
	b.SetAttempt(2)
	b.SetRound(1)
	b.AddSystemMessage("prompt")
	b.AddUserMessage("task")
	b.AddToolCall("x", "{}", "call_1")
	b.AddToolResult("x", "call_1", "ok")
	b.AddContent("done")
	b.FlushTurn()
	b.InjectUpdate(map[string]string{"agent_b": "alt"}, true)

	require.NoError(t, b.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, b.AgentID(), loaded.AgentID())
	assert.Equal(t, b.Attempt(), loaded.Attempt())
	assert.Equal(t, b.Round(), loaded.Round())
	assert.Equal(t, b.InjectionTimestamps(), loaded.InjectionTimestamps())

	orig, got := b.Entries(), loaded.Entries()
	require.Equal(t, len(orig), len(got))
	for i := range orig {
		assert.Equal(t, orig[i].Type, got[i].Type)
		assert.Equal(t, orig[i].Content, got[i].Content)
		assert.InDelta(t, orig[i].Timestamp, got[i].Timestamp, 1e-9)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptBuffer)
}

func TestLoad_MissingAgentID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"entries":[]}`), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrCorruptBuffer)
}

func TestStore_SaveAllLoadStore(t *testing.T) {
	dir := t.TempDir()

	s := NewStore()
	a := s.GetOrCreate("agent_a")
	a.AddUserMessage("hello")
	bBuf := s.GetOrCreate("agent_b")
	bBuf.AddUserMessage("world")

	require.NoError(t, s.SaveAll(dir))

	restored, err := LoadStore(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent_a", "agent_b"}, restored.IDs())

	ra, ok := restored.Get("agent_a")
	require.True(t, ok)
	assert.Equal(t, 1, ra.Len())
}

func TestStore_GetOrCreateReturnsSameBuffer(t *testing.T) {
	s := NewStore()
	b1 := s.GetOrCreate("agent_a")
	b2 := s.GetOrCreate("agent_a")
	assert.Same(t, b1, b2)

	s.Remove("agent_a")
	_, ok := s.Get("agent_a")
	assert.False(t, ok)
}
