// Package witness maps a Simplicity spending path and a 64-byte Schnorr
// signature onto the bit-aligned witness payload the covenant program
// consumes. The encoding follows the total-function-over-a-sum-type shape
// the reference wallet uses for its own witness generators
// (lnwallet/witnessgen.go's WitnessType/GenWitnessFunc pairing): Path is a
// closed enum, Encode is total over it, and a non-64-byte signature is
// rejected at the boundary rather than deep inside bit-packing logic.
package witness

import (
	"fmt"

	"github.com/brcapelao/sap/internal/build"
)

var log = build.NewSubLogger(build.SubsystemWitness)

// Path identifies one branch of a contract's spending-path sum type.
type Path uint8

const (
	// PathAdminUnconditional is the vault's Left path: drain, signed by
	// admin, no covenant enforcement. Tag bits: "0".
	PathAdminUnconditional Path = iota
	// PathAdminIssue is the vault's Right-Left path: admin signs an
	// issuance, covenant enforces the output set. Tag bits: "10".
	PathAdminIssue
	// PathDelegateIssue is the vault's Right-Right path: delegate signs
	// an issuance, covenant enforces the output set. Tag bits: "11".
	PathDelegateIssue
	// PathCertAdminRevoke is the certificate contract's Left path: any
	// spend signed by admin. Tag bits: "0".
	PathCertAdminRevoke
	// PathCertDelegateRevoke is the certificate contract's Right path:
	// any spend signed by delegate. Tag bits: "1".
	PathCertDelegateRevoke
)

// String renders the path the way a log line or review-UI would want it.
func (p Path) String() string {
	switch p {
	case PathAdminUnconditional:
		return "admin_unconditional"
	case PathAdminIssue:
		return "admin_issue"
	case PathDelegateIssue:
		return "delegate_issue"
	case PathCertAdminRevoke:
		return "cert_admin_revoke"
	case PathCertDelegateRevoke:
		return "cert_delegate_revoke"
	default:
		return fmt.Sprintf("unknown_path(%d)", uint8(p))
	}
}

// tagBits returns the MSB-first tag-bit prefix for a path, as a bit
// string of '0'/'1' characters, following the same literal bit-string
// accounting the reference SAP implementation used before porting to a
// typed encoder.
func (p Path) tagBits() (string, error) {
	switch p {
	case PathAdminUnconditional:
		return "0", nil
	case PathAdminIssue:
		return "10", nil
	case PathDelegateIssue:
		return "11", nil
	case PathCertAdminRevoke:
		return "0", nil
	case PathCertDelegateRevoke:
		return "1", nil
	default:
		return "", fmt.Errorf("witness: unknown spending path %d", uint8(p))
	}
}

// SignatureSize is the fixed length of a Schnorr signature this encoder
// accepts.
const SignatureSize = 64

// WitnessSize is the fixed length of every encoded witness: tag bits,
// followed by 512 signature bits, followed by zero padding to the next
// byte boundary. For every defined Path this totals exactly 65 bytes.
const WitnessSize = 65

// ErrInvalidSignatureLength is returned by Encode when sig is not exactly
// SignatureSize bytes.
type ErrInvalidSignatureLength struct {
	Got int
}

func (e *ErrInvalidSignatureLength) Error() string {
	return fmt.Sprintf("witness: signature must be %d bytes, got %d", SignatureSize, e.Got)
}

// Encode serializes path and a 64-byte Schnorr signature into the
// 65-byte witness payload the contract consumes.
func Encode(path Path, sig []byte) ([WitnessSize]byte, error) {
	var out [WitnessSize]byte

	if len(sig) != SignatureSize {
		return out, &ErrInvalidSignatureLength{Got: len(sig)}
	}

	tag, err := path.tagBits()
	if err != nil {
		return out, err
	}

	bits := make([]byte, 0, len(tag)+SignatureSize*8)
	for _, c := range tag {
		bits = append(bits, byte(c-'0'))
	}
	for _, b := range sig {
		for i := 7; i >= 0; i-- {
			bits = append(bits, (b>>uint(i))&1)
		}
	}
	// Zero-pad to the next byte boundary (always completes WitnessSize
	// bytes for every defined path: tags are 1 or 2 bits, so the 513 or
	// 514 bits pad up to 520 bits, i.e. 65 bytes).
	for len(bits)%8 != 0 {
		bits = append(bits, 0)
	}

	if len(bits)/8 != WitnessSize {
		// Unreachable for the paths defined above; guards future path
		// additions whose tag length doesn't divide evenly.
		return out, fmt.Errorf("witness: internal encoding produced %d bytes, want %d",
			len(bits)/8, WitnessSize)
	}

	for i := 0; i < WitnessSize; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			b = b<<1 | bits[i*8+j]
		}
		out[i] = b
	}

	log.Tracef("encoded witness for path=%v (%d bytes)", path, WitnessSize)

	return out, nil
}

// DecodeVaultPath inspects the MSB-first tag-bit prefix of a vault
// contract's witness and reports which of the three vault spending paths
// produced it. It is the inverse of Encode restricted to the vault's
// three paths, used by callers (e.g. an off-chain policy layer deciding
// whether a delegate may revoke an admin-issued certificate) that need
// to recover which key signed a past spend without re-running the
// covenant program.
func DecodeVaultPath(w []byte) (Path, error) {
	if len(w) == 0 {
		return 0, fmt.Errorf("witness: empty witness")
	}
	first := w[0]
	if first&0x80 == 0 {
		return PathAdminUnconditional, nil
	}
	if first&0x40 == 0 {
		return PathAdminIssue, nil
	}
	return PathDelegateIssue, nil
}

// DecodeCertPath inspects the MSB-first tag-bit prefix of a certificate
// contract's witness and reports which of the two revoke paths produced
// it.
func DecodeCertPath(w []byte) (Path, error) {
	if len(w) == 0 {
		return 0, fmt.Errorf("witness: empty witness")
	}
	if w[0]&0x80 == 0 {
		return PathCertAdminRevoke, nil
	}
	return PathCertDelegateRevoke, nil
}

// Dummy returns the witness for path with an all-zero 64-byte signature,
// used to drive the contract engine's dry-run step far enough to reveal
// the signature-all-hash digest before a real signature exists.
func Dummy(path Path) [WitnessSize]byte {
	zero := make([]byte, SignatureSize)
	out, err := Encode(path, zero)
	if err != nil {
		// path is one of the const-defined values above; Encode cannot
		// fail for a 64-byte all-zero signature.
		panic(err)
	}
	return out
}
