// Package payload implements the bit-exact codec for the attestation
// records carried in a null-data (OP_RETURN-style) output:
//
//	magic:3 | version:1 | opcode:1 | body:variable
//
// Sizing follows the comment-documented byte accounting style used
// throughout the reference wallet's weight/size constants: every constant
// below states what it counts and why, the way lnwallet/size.go documents
// P2WSHSize, P2WKHWitnessSize, and friends.
package payload

import (
	"encoding/hex"
	"fmt"

	"github.com/brcapelao/sap/internal/build"
	"github.com/brcapelao/sap/saperr"
)

var log = build.NewSubLogger(build.SubsystemPayload)

// Opcode identifies the kind of attestation record carried in a body.
type Opcode byte

const (
	// OpAttest issues a certificate bound to a content-id.
	OpAttest Opcode = 0x01
	// OpRevoke records revocation intent for a prior certificate UTXO.
	OpRevoke Opcode = 0x02
	// OpUpdate updates a certificate's content-id; same body shape as
	// OpAttest.
	OpUpdate Opcode = 0x03
	// OpDelegate and OpUndelegate are reserved opcodes recognized by
	// decode but not yet emitted by any encoder in this package.
	OpDelegate   Opcode = 0x10
	OpUndelegate Opcode = 0x11
)

const (
	// Version is the only record version this codec understands.
	Version byte = 0x01

	// MagicSize, VersionSize, OpcodeSize are the fixed header fields
	// that precede every record's variable-length body.
	MagicSize   = 3
	VersionSize = 1
	OpcodeSize  = 1
	HeaderSize  = MagicSize + VersionSize + OpcodeSize

	// MaxRecordSize is the null-data output limit this protocol targets.
	MaxRecordSize = 80

	// MaxBodySize is what remains for the body after the fixed header.
	MaxBodySize = MaxRecordSize - HeaderSize

	// revokeBodyBase is txid(32) + vout(2), the shortest legal REVOKE
	// body.
	revokeBodyBase = 32 + 2

	// revokeBodyWithReason adds a single reason-code byte.
	revokeBodyWithReason = revokeBodyBase + 1

	// revokeBodyFull adds a 32-byte replacement txid on top of the
	// reason-code byte; replacement may only appear alongside a reason.
	revokeBodyFull = revokeBodyWithReason + 32
)

// Codec encodes and decodes attestation records under a fixed 3-byte magic
// tag, parameterized the way zpay32's invoice codec is parameterized by
// network currency prefix rather than hard-coded.
type Codec struct {
	magic [MagicSize]byte
}

// NewCodec returns a Codec that stamps and recognizes records carrying the
// given 3-ASCII-character system tag.
func NewCodec(magic [MagicSize]byte) *Codec {
	return &Codec{magic: magic}
}

// Record is a decoded attestation record.
type Record struct {
	Opcode Opcode
	Body   []byte
}

// EncodeAttest builds an ATTEST record body from cid, interpreting cid as
// hex when it parses as exactly-even-length hex and as raw UTF-8 bytes
// otherwise.
func (c *Codec) EncodeAttest(cid string) ([]byte, error) {
	return c.encodeCIDRecord(OpAttest, cid)
}

// EncodeUpdate builds an UPDATE record body; same body shape as ATTEST.
func (c *Codec) EncodeUpdate(cid string) ([]byte, error) {
	return c.encodeCIDRecord(OpUpdate, cid)
}

func (c *Codec) encodeCIDRecord(op Opcode, cid string) ([]byte, error) {
	body := cidBody(cid)
	if len(body) > MaxBodySize {
		return nil, &saperr.PayloadTooLarge{Size: len(body), Max: MaxBodySize}
	}

	return c.assemble(op, body), nil
}

// cidBody returns the wire body for a content-id: its raw hex decoding
// when cid parses cleanly as hex, else its verbatim UTF-8 bytes.
func cidBody(cid string) []byte {
	if raw, err := hex.DecodeString(cid); err == nil && len(cid)%2 == 0 && len(cid) > 0 {
		return raw
	}
	return []byte(cid)
}

// EncodeRevoke builds a REVOKE record body: txid(32) || vout(u16 BE) ||
// [reasonCode(1)] || [replacementTxID(32)]. replacementTxID may only be
// supplied together with a reasonCode.
func (c *Codec) EncodeRevoke(txid string, vout uint16, reasonCode *uint8, replacementTxID *string) ([]byte, error) {
	if replacementTxID != nil && reasonCode == nil {
		return nil, &saperr.InvalidArgument{
			Field:  "replacement_txid",
			Reason: "may only be supplied together with a reason_code",
		}
	}

	txidBytes, err := decodeFixedHex("txid", txid, 32)
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, revokeBodyFull)
	body = append(body, txidBytes...)
	body = append(body, byte(vout>>8), byte(vout))

	if reasonCode != nil {
		body = append(body, *reasonCode)
	}
	if replacementTxID != nil {
		replBytes, err := decodeFixedHex("replacement_txid", *replacementTxID, 32)
		if err != nil {
			return nil, err
		}
		body = append(body, replBytes...)
	}

	return c.assemble(OpRevoke, body), nil
}

func decodeFixedHex(field, s string, n int) ([]byte, error) {
	if len(s) != n*2 {
		return nil, &saperr.InvalidArgument{
			Field:  field,
			Reason: fmt.Sprintf("must be exactly %d hex chars, got %d", n*2, len(s)),
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &saperr.InvalidArgument{Field: field, Reason: "not valid hex"}
	}
	return b, nil
}

func (c *Codec) assemble(op Opcode, body []byte) []byte {
	rec := make([]byte, 0, HeaderSize+len(body))
	rec = append(rec, c.magic[:]...)
	rec = append(rec, Version, byte(op))
	rec = append(rec, body...)
	return rec
}

// Decode parses b into a Record, returning false when b carries the wrong
// magic, the wrong version, an unknown opcode, or — for REVOKE — a body
// length outside the canonical set {34, 35, 67}. Decode never panics on
// truncated input.
func (c *Codec) Decode(b []byte) (Record, bool) {
	if len(b) < HeaderSize {
		return Record{}, false
	}
	if [MagicSize]byte(b[:MagicSize]) != c.magic {
		return Record{}, false
	}
	if b[MagicSize] != Version {
		return Record{}, false
	}

	op := Opcode(b[MagicSize+VersionSize])
	body := b[HeaderSize:]

	switch op {
	case OpAttest, OpUpdate:
		if len(body) > MaxBodySize {
			return Record{}, false
		}
	case OpRevoke:
		switch len(body) {
		case revokeBodyBase, revokeBodyWithReason, revokeBodyFull:
		default:
			log.Debugf("rejecting REVOKE body of invalid length %d", len(body))
			return Record{}, false
		}
	case OpDelegate, OpUndelegate:
		if len(body) > MaxBodySize {
			return Record{}, false
		}
	default:
		return Record{}, false
	}

	return Record{Opcode: op, Body: body}, true
}

// RevokeFields is the parsed form of a decoded REVOKE record body.
type RevokeFields struct {
	TargetTxID      chainHashHex
	TargetVout      uint16
	ReasonCode      *uint8
	ReplacementTxID *chainHashHex
}

// chainHashHex is a 32-byte hash rendered as lowercase hex; kept as a
// named string type so callers don't confuse it with an arbitrary string
// field.
type chainHashHex string

// String returns the hex representation.
func (h chainHashHex) String() string { return string(h) }

// DecodeRevoke parses the body of a record previously confirmed to carry
// opcode OpRevoke via Decode.
func DecodeRevoke(body []byte) (RevokeFields, error) {
	switch len(body) {
	case revokeBodyBase, revokeBodyWithReason, revokeBodyFull:
	default:
		return RevokeFields{}, &saperr.InvalidArgument{
			Field:  "body",
			Reason: fmt.Sprintf("length %d is not one of {34,35,67}", len(body)),
		}
	}

	fields := RevokeFields{
		TargetTxID: chainHashHex(hex.EncodeToString(body[:32])),
		TargetVout: uint16(body[32])<<8 | uint16(body[33]),
	}

	if len(body) >= revokeBodyWithReason {
		reason := body[34]
		fields.ReasonCode = &reason
	}
	if len(body) == revokeBodyFull {
		repl := chainHashHex(hex.EncodeToString(body[35:67]))
		fields.ReplacementTxID = &repl
	}

	return fields, nil
}
