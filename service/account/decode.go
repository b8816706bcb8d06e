package account

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrDecode means the account data could not be decoded. The record
	// returned alongside it is FallbackRecord and must not be acted on.
	ErrDecode = errors.New("account data decode failed")

	// ErrMissingAmount means a parsed document carried no token amount and the
	// decoder was configured to skip such accounts.
	ErrMissingAmount = errors.New("token amount missing from parsed account data")
)

// State is the token account state field.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateFrozen
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Record is the normalized view of a token account, whatever shape its data
// arrived in.
type Record struct {
	Amount   uint64
	Mint     solana.PublicKey
	Owner    solana.PublicKey
	State    State
	IsNative bool

	// CloseAuthority is the zero key unless the account names a close
	// authority of its own.
	CloseAuthority solana.PublicKey

	// AmountDefaulted is set when the document had no amount and the
	// configured default was used instead.
	AmountDefaulted bool
	Encoding        Encoding
}

// FallbackRecord is what Decode returns next to an error: zero balance and
// the zero mint. It is lossy; a zero here says nothing about the real account.
func FallbackRecord() Record {
	return Record{}
}

// DecodeOptions controls policy decisions the decoder cannot make on its own.
type DecodeOptions struct {
	// DefaultAmount is used when a parsed document has no token amount.
	// nil means such accounts fail with ErrMissingAmount and are left alone.
	// Zero treats them as empty (closable); one treats them as holding dust.
	DefaultAmount *uint64
}

// Decoder normalizes account payloads into Records. It holds no mutable
// state after construction, so Decode is safe to call repeatedly and
// concurrently, and the same payload always yields the same record.
type Decoder struct {
	opts       DecodeOptions
	binary     binaryDecoder
	structured *structuredDecoder
}

// NewDecoder builds a Decoder.
func NewDecoder(opts DecodeOptions) (*Decoder, error) {
	structured, err := newStructuredDecoder()
	if err != nil {
		return nil, err
	}
	return &Decoder{
		opts:       opts,
		structured: structured,
	}, nil
}

// Decode dispatches on the payload's encoding tag. On failure it returns
// FallbackRecord and an error wrapping ErrDecode or ErrMissingAmount.
func (d *Decoder) Decode(p Payload) (Record, error) {
	var (
		rec Record
		err error
	)
	switch {
	case p.Encoding.IsBinary():
		rec, err = d.binary.decode(p.Encoding, p.Blob)
	case p.Encoding == EncodingJSONParsed:
		rec, err = d.structured.decode(p.Document, d.opts.DefaultAmount)
	default:
		err = fmt.Errorf("%w: unsupported encoding %q", ErrDecode, p.Encoding)
	}
	if err != nil {
		return FallbackRecord(), err
	}
	rec.Encoding = p.Encoding
	return rec, nil
}

// DecodeWire is PayloadFromWire followed by Decode.
func (d *Decoder) DecodeWire(raw json.RawMessage) (Record, error) {
	p, err := PayloadFromWire(raw)
	if err != nil {
		return FallbackRecord(), err
	}
	return d.Decode(p)
}
