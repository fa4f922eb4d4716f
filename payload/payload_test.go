package payload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var testMagic = [MagicSize]byte{'S', 'A', 'P'}

func newTestCodec() *Codec {
	return NewCodec(testMagic)
}

func TestEncodeDecodeAttestRoundTrip(t *testing.T) {
	c := newTestCodec()

	cases := []string{
		"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		"deadbeef",
		"",
	}

	for _, cid := range cases {
		enc, err := c.EncodeAttest(cid)
		require.NoError(t, err)

		rec, ok := c.Decode(enc)
		require.True(t, ok)
		require.Equal(t, OpAttest, rec.Opcode)
		require.Equal(t, cidBody(cid), rec.Body)
	}
}

func TestEncodeAttestTooLarge(t *testing.T) {
	c := newTestCodec()

	cid := strings.Repeat("z", MaxBodySize+1)
	_, err := c.EncodeAttest(cid)
	require.Error(t, err)
}

func TestEncodeRevokeVariants(t *testing.T) {
	c := newTestCodec()
	txid := strings.Repeat("aa", 32)
	repl := strings.Repeat("ee", 32)
	reason := uint8(6)

	t.Run("bare", func(t *testing.T) {
		body, err := c.EncodeRevoke(txid, 0, nil, nil)
		require.NoError(t, err)

		rec, ok := c.Decode(body)
		require.True(t, ok)
		require.Equal(t, OpRevoke, rec.Opcode)

		fields, err := DecodeRevoke(rec.Body)
		require.NoError(t, err)
		require.Equal(t, txid, fields.TargetTxID.String())
		require.Nil(t, fields.ReasonCode)
		require.Nil(t, fields.ReplacementTxID)
	})

	t.Run("with reason", func(t *testing.T) {
		body, err := c.EncodeRevoke(txid, 1, &reason, nil)
		require.NoError(t, err)

		rec, _ := c.Decode(body)
		fields, err := DecodeRevoke(rec.Body)
		require.NoError(t, err)
		require.NotNil(t, fields.ReasonCode)
		require.Equal(t, reason, *fields.ReasonCode)
		require.Equal(t, uint16(1), fields.TargetVout)
	})

	t.Run("with reason and replacement", func(t *testing.T) {
		body, err := c.EncodeRevoke(txid, 1, &reason, &repl)
		require.NoError(t, err)
		require.Len(t, body, HeaderSize+67)

		rec, ok := c.Decode(body)
		require.True(t, ok)
		fields, err := DecodeRevoke(rec.Body)
		require.NoError(t, err)
		require.Equal(t, repl, fields.ReplacementTxID.String())
	})

	t.Run("replacement without reason rejected", func(t *testing.T) {
		_, err := c.EncodeRevoke(txid, 1, nil, &repl)
		require.Error(t, err)
	})

	t.Run("bad txid length rejected", func(t *testing.T) {
		_, err := c.EncodeRevoke("abcd", 1, nil, nil)
		require.Error(t, err)
	})
}

func TestDecodeStrictness(t *testing.T) {
	c := newTestCodec()

	t.Run("too short", func(t *testing.T) {
		_, ok := c.Decode([]byte{'S', 'A'})
		require.False(t, ok)
	})

	t.Run("wrong magic", func(t *testing.T) {
		_, ok := c.Decode(append([]byte{'X', 'X', 'X', Version, byte(OpAttest)}, "hi"...))
		require.False(t, ok)
	})

	t.Run("wrong version", func(t *testing.T) {
		_, ok := c.Decode(append([]byte{'S', 'A', 'P', 0x02, byte(OpAttest)}, "hi"...))
		require.False(t, ok)
	})

	t.Run("unknown opcode", func(t *testing.T) {
		_, ok := c.Decode(append([]byte{'S', 'A', 'P', Version, 0x7f}, "hi"...))
		require.False(t, ok)
	})

	t.Run("revoke truncated lengths rejected", func(t *testing.T) {
		for n := 36; n <= 66; n++ {
			body := make([]byte, n)
			rec := append([]byte{'S', 'A', 'P', Version, byte(OpRevoke)}, body...)
			_, ok := c.Decode(rec)
			require.False(t, ok, "length %d should be rejected", n)
		}
	})

	t.Run("revoke canonical lengths accepted", func(t *testing.T) {
		for _, n := range []int{34, 35, 67} {
			body := make([]byte, n)
			rec := append([]byte{'S', 'A', 'P', Version, byte(OpRevoke)}, body...)
			_, ok := c.Decode(rec)
			require.True(t, ok, "length %d should be accepted", n)
		}
	})
}
