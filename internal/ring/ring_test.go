package ring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapacityRoundsUp(t *testing.T) {
	require.Equal(t, 8, New(5).Cap())
	require.Equal(t, 16, New(16).Cap())
}

func TestWriteAllOrNothing(t *testing.T) {
	b := New(8)
	_, err := b.Write([]byte("123456"))
	require.NoError(t, err)
	_, err = b.Write([]byte("789"))
	require.ErrorIs(t, err, ErrTooLarge)
	require.Equal(t, 6, b.Len())
}

func TestHeadAcrossWrap(t *testing.T) {
	b := New(8)
	_, _ = b.Write([]byte("abcdef"))
	require.Equal(t, 4, b.Discard(4))
	_, err := b.Write([]byte("ghijk"))
	require.NoError(t, err)

	var out bytes.Buffer
	for b.Len() > 0 {
		p := b.Head()
		out.Write(p)
		b.Discard(len(p))
	}
	require.Equal(t, "efghijk", out.String())
	require.Nil(t, b.Head())
}

func TestReset(t *testing.T) {
	b := New(4)
	_, _ = b.Write([]byte("ab"))
	b.Reset()
	require.Zero(t, b.Len())
	require.Equal(t, 4, b.Free())
}

func TestWriteWrapsNearEnd(t *testing.T) {
	b := New(65537)
	require.Equal(t, 131072, b.Cap())
	_, err := b.Write(make([]byte, 131000))
	require.NoError(t, err)
	require.Equal(t, 130990, b.Discard(130990))

	p := bytes.Repeat([]byte("z"), 200)
	_, err = b.Write(p)
	require.NoError(t, err)
	require.Equal(t, 210, b.Len())

	var out bytes.Buffer
	for b.Len() > 0 {
		h := b.Head()
		out.Write(h)
		b.Discard(len(h))
	}
	require.Equal(t, append(make([]byte, 10), p...), out.Bytes())
}
