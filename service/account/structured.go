package account

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
)

// tokenInfoQuery accepts either the whole RPC data object
// ({"program": ..., "parsed": {...}}) or just the parsed part.
const tokenInfoQuery = `(.parsed // .) | (.info // {}) | {
	amount: .tokenAmount.amount,
	mint: .mint,
	owner: .owner,
	state: .state,
	isNative: .isNative,
	closeAuthority: .closeAuthority
}`

type structuredDecoder struct {
	code *gojq.Code
}

func newStructuredDecoder() (*structuredDecoder, error) {
	query, err := gojq.Parse(tokenInfoQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token info query: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile token info query: %w", err)
	}
	return &structuredDecoder{code: code}, nil
}

func (d *structuredDecoder) decode(doc map[string]any, defaultAmount *uint64) (Record, error) {
	if doc == nil {
		return Record{}, fmt.Errorf("%w: parsed account data is empty", ErrDecode)
	}

	iter := d.code.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return Record{}, fmt.Errorf("%w: token info query produced no result", ErrDecode)
	}
	if err, ok := v.(error); ok {
		return Record{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	info, ok := v.(map[string]any)
	if !ok {
		return Record{}, fmt.Errorf("%w: token info is %T", ErrDecode, v)
	}

	var rec Record

	switch amount := info["amount"].(type) {
	case nil:
		if defaultAmount == nil {
			return Record{}, ErrMissingAmount
		}
		rec.Amount = *defaultAmount
		rec.AmountDefaulted = true
	case string:
		n, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: token amount %q: %v", ErrDecode, amount, err)
		}
		rec.Amount = n
	case float64:
		if amount < 0 || amount != math.Trunc(amount) || amount > 1<<53 {
			return Record{}, fmt.Errorf("%w: token amount %v is not an exact integer", ErrDecode, amount)
		}
		rec.Amount = uint64(amount)
	default:
		return Record{}, fmt.Errorf("%w: token amount has type %T", ErrDecode, amount)
	}

	var err error
	if rec.Mint, err = optionalKey(info["mint"], "mint"); err != nil {
		return Record{}, err
	}
	if rec.Owner, err = optionalKey(info["owner"], "owner"); err != nil {
		return Record{}, err
	}
	if rec.CloseAuthority, err = optionalKey(info["closeAuthority"], "closeAuthority"); err != nil {
		return Record{}, err
	}

	switch state := info["state"].(type) {
	case nil:
		rec.State = StateInitialized
	case string:
		switch state {
		case "initialized":
			rec.State = StateInitialized
		case "frozen":
			rec.State = StateFrozen
		default:
			return Record{}, fmt.Errorf("%w: account state is %s", ErrDecode, state)
		}
	default:
		return Record{}, fmt.Errorf("%w: account state has type %T", ErrDecode, state)
	}

	if native, ok := info["isNative"].(bool); ok {
		rec.IsNative = native
	}

	return rec, nil
}

// optionalKey parses a base58 identifier. A missing field yields the zero key;
// a present but malformed one is a decode failure.
func optionalKey(v any, field string) (solana.PublicKey, error) {
	switch s := v.(type) {
	case nil:
		return solana.PublicKey{}, nil
	case string:
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("%w: %s %q: %v", ErrDecode, field, s, err)
		}
		return pk, nil
	default:
		return solana.PublicKey{}, fmt.Errorf("%w: %s has type %T", ErrDecode, field, v)
	}
}
