package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Shugur-Network/publisher/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndRoundTripHex(t *testing.T) {
	keys, err := Generate()
	require.NoError(t, err)
	assert.Len(t, keys.PublicKey, 64)
	assert.Len(t, keys.SecretHex(), 64)

	again, err := FromHex(keys.SecretHex())
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKey, again.PublicKey)
	assert.Equal(t, "publisher-"+keys.PublicKey[:16], keys.ID())
}

func TestFromHexRejectsBadInput(t *testing.T) {
	for name, in := range map[string]string{
		"not hex":   "zz",
		"too short": "abcd",
		"too long":  "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromHex(in)
			assert.Error(t, err)
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "publisher.key")

	created, isNew, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, isNew)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, isNew, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.PublicKey, loaded.PublicKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.key"))
	assert.Error(t, err)
}

func TestSignProducesVerifiableEvent(t *testing.T) {
	keys, err := Generate()
	require.NoError(t, err)

	evt := event.Event{Kind: 1, Tags: event.Tags{{"t", "go"}}, Content: "hello relays"}
	now = func() time.Time { return time.Unix(1700000000, 0) }
	t.Cleanup(func() { now = time.Now })

	require.NoError(t, keys.Sign(&evt))
	assert.Equal(t, keys.PublicKey, evt.PubKey)
	assert.Equal(t, event.Timestamp(1700000000), evt.CreatedAt)
	assert.Len(t, evt.ID, 64)
	assert.Len(t, evt.Sig, 128)

	n := evt.ToNostr()
	ok, err := n.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, evt.ID, n.GetID())

	// Signed events survive the wire codec unchanged.
	data, err := evt.Serialize()
	require.NoError(t, err)
	back, err := event.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, evt, back)
}

func TestSignKeepsExplicitTimestamp(t *testing.T) {
	keys, err := Generate()
	require.NoError(t, err)

	evt := event.Event{Kind: 1, CreatedAt: 42, Tags: event.Tags{}}
	require.NoError(t, keys.Sign(&evt))
	assert.Equal(t, event.Timestamp(42), evt.CreatedAt)
}
