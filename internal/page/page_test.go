package page

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndRead(t *testing.T) {
	p := New(4)
	require.True(t, p.HasCapacity())

	slot, err := p.Append(42)
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	v, err := p.Read(slot)
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
	require.Equal(t, 1, p.NumRecords())
}

func TestAppendFullPage(t *testing.T) {
	p := New(2)
	_, err := p.Append(1)
	require.NoError(t, err)
	_, err = p.Append(2)
	require.NoError(t, err)
	require.False(t, p.HasCapacity())

	_, err = p.Append(3)
	require.Error(t, err)
}

func TestWriteAtOverwritesWithoutAppend(t *testing.T) {
	p := New(4)
	require.NoError(t, p.WriteAt(3, 99))
	v, err := p.Read(3)
	require.NoError(t, err)
	require.Equal(t, int32(99), v)
	require.Equal(t, 4, p.NumRecords())
}

func TestSerializeRoundTrip(t *testing.T) {
	p := New(8)
	for i := 0; i < 5; i++ {
		_, err := p.Append(int32(i * 10))
		require.NoError(t, err)
	}

	blob, err := p.Serialize()
	require.NoError(t, err)

	loaded, err := Deserialize(8, blob)
	require.NoError(t, err)
	require.Equal(t, p.NumRecords(), loaded.NumRecords())

	for i := 0; i < 8; i++ {
		want, _ := p.Read(i)
		got, _ := loaded.Read(i)
		require.Equal(t, want, got)
	}
}

func TestDeserializeCorruptedChecksum(t *testing.T) {
	p := New(4)
	_, _ = p.Append(7)
	blob, err := p.Serialize()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(blob, &env))
	env.Checksum++ // corrupt the stamped checksum, payload bytes untouched
	corrupted, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = Deserialize(4, corrupted)
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum")
}
