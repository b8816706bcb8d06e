package account

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encoding is the discriminant tag of an account data payload.
type Encoding string

const (
	EncodingBase64     Encoding = "base64"
	EncodingBase58     Encoding = "base58"
	EncodingJSONParsed Encoding = "jsonParsed"
)

// IsBinary reports whether payloads with this encoding carry an opaque blob.
func (e Encoding) IsBinary() bool {
	return e == EncodingBase64 || e == EncodingBase58
}

// Payload is account data as the ledger returned it: either an encoded blob
// (Blob set) or a pre-parsed document (Document set). Encoding says which.
type Payload struct {
	Encoding Encoding
	Blob     string
	Document map[string]any
}

// PayloadFromWire recognises the shapes getTokenAccountsByOwner uses for
// account data:
//
//	["<blob>", "base64"]                     binary, tagged
//	{"program": ..., "parsed": {...}, ...}   jsonParsed
//	"<blob>"                                 binary, legacy base58
//
// A node asked for jsonParsed answers with the tagged binary shape when it
// cannot parse an account, so callers never need to know what they asked for.
func PayloadFromWire(raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Payload{}, fmt.Errorf("%w: empty account data", ErrDecode)
	}

	switch trimmed[0] {
	case '[':
		var tagged []string
		if err := json.Unmarshal(trimmed, &tagged); err != nil {
			return Payload{}, fmt.Errorf("%w: account data array: %v", ErrDecode, err)
		}
		if len(tagged) != 2 {
			return Payload{}, fmt.Errorf("%w: account data array has %d elements, want 2", ErrDecode, len(tagged))
		}
		return Payload{Encoding: Encoding(tagged[1]), Blob: tagged[0]}, nil

	case '{':
		var doc map[string]any
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return Payload{}, fmt.Errorf("%w: account data object: %v", ErrDecode, err)
		}
		return Payload{Encoding: EncodingJSONParsed, Document: doc}, nil

	case '"':
		var blob string
		if err := json.Unmarshal(trimmed, &blob); err != nil {
			return Payload{}, fmt.Errorf("%w: account data string: %v", ErrDecode, err)
		}
		return Payload{Encoding: EncodingBase58, Blob: blob}, nil
	}

	return Payload{}, fmt.Errorf("%w: unrecognised account data shape", ErrDecode)
}
