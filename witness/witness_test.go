package witness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allPaths = []Path{
	PathAdminUnconditional,
	PathAdminIssue,
	PathDelegateIssue,
	PathCertAdminRevoke,
	PathCertDelegateRevoke,
}

func TestEncodeLengthIsAlways65(t *testing.T) {
	sig := make([]byte, SignatureSize)
	for i := range sig {
		sig[i] = 0x11
	}

	for _, p := range allPaths {
		out, err := Encode(p, sig)
		require.NoError(t, err)
		require.Len(t, out, WitnessSize)
	}
}

func TestEncodeTagBits(t *testing.T) {
	sig := make([]byte, SignatureSize)

	tests := []struct {
		path     Path
		wantBits string
	}{
		{PathAdminUnconditional, "0"},
		{PathAdminIssue, "10"},
		{PathDelegateIssue, "11"},
		{PathCertAdminRevoke, "0"},
		{PathCertDelegateRevoke, "1"},
	}

	for _, tc := range tests {
		out, err := Encode(tc.path, sig)
		require.NoError(t, err)

		first := out[0]
		for i, want := range tc.wantBits {
			bit := (first >> (7 - i)) & 1
			wantBit := byte(want - '0')
			require.Equal(t, wantBit, bit, "path %v bit %d", tc.path, i)
		}
	}
}

func TestEncodeRejectsWrongSignatureLength(t *testing.T) {
	for _, n := range []int{0, 1, 63, 65, 128} {
		_, err := Encode(PathAdminIssue, make([]byte, n))
		require.Error(t, err)
	}
	_, err := Encode(PathAdminIssue, make([]byte, SignatureSize))
	require.NoError(t, err)
}

func TestDummyUsesZeroSignature(t *testing.T) {
	for _, p := range allPaths {
		out := Dummy(p)
		require.Len(t, out, WitnessSize)

		want, err := Encode(p, make([]byte, SignatureSize))
		require.NoError(t, err)
		require.Equal(t, want, out)
	}
}

func TestDecodeVaultPathRoundTrips(t *testing.T) {
	sig := make([]byte, SignatureSize)
	for _, p := range []Path{PathAdminUnconditional, PathAdminIssue, PathDelegateIssue} {
		w, err := Encode(p, sig)
		require.NoError(t, err)

		got, err := DecodeVaultPath(w[:])
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
}

func TestDecodeCertPathRoundTrips(t *testing.T) {
	sig := make([]byte, SignatureSize)
	for _, p := range []Path{PathCertAdminRevoke, PathCertDelegateRevoke} {
		w, err := Encode(p, sig)
		require.NoError(t, err)

		got, err := DecodeCertPath(w[:])
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
}

func TestDecodeRejectsEmptyWitness(t *testing.T) {
	_, err := DecodeVaultPath(nil)
	require.Error(t, err)
	_, err = DecodeCertPath(nil)
	require.Error(t, err)
}
