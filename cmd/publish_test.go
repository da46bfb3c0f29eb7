package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Shugur-Network/publisher/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonl = `{"id":"aa","pubkey":"","created_at":1,"kind":1,"tags":[],"content":"one","sig":"x"}
{"id":"aa","pubkey":"","created_at":1,"kind":1,"tags":[],"content":"one","sig":"x"}
{"id":"bb","pubkey":"","created_at":2,"kind":1,"tags":[],"content":"two","sig":"x"}
`

func TestEventsFromFlags(t *testing.T) {
	opts := &publishOptions{kind: 1, content: "gm", tags: []string{"t,nostr", "p,abc,wss://relay"}}
	evts, err := opts.events(nil)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "gm", evts[0].Content)
	assert.Equal(t, event.Tags{{"t", "nostr"}, {"p", "abc", "wss://relay"}}, evts[0].Tags)
}

func TestEventsContentTooLarge(t *testing.T) {
	opts := &publishOptions{content: strings.Repeat("x", 64*1024+1)}
	_, err := opts.events(nil)
	assert.Error(t, err)
}

func TestEventsFromStdinAndFile(t *testing.T) {
	opts := &publishOptions{file: "-"}
	evts, err := opts.events(strings.NewReader(jsonl))
	require.NoError(t, err)
	assert.Len(t, evts, 2)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(jsonl), 0o600))
	opts = &publishOptions{file: path}
	evts, err = opts.events(nil)
	require.NoError(t, err)
	assert.Equal(t, "bb", evts[1].ID)
}

func TestVersionStrings(t *testing.T) {
	assert.Equal(t, "shugur publisher version: dev", GetVersionWithPrefix())
	assert.Contains(t, GetFullVersionInfo(), "Commit: unknown")
}
