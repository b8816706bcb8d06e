package account

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// tokenAccountSize is the SPL token account layout. Token-2022 accounts with
// extensions append TLV data after it; only the base layout is read.
const tokenAccountSize = 165

// tokenAccountLayout mirrors the on-chain SPL token account. Option fields are
// 4-byte little-endian tags (0 = none, 1 = some).
type tokenAccountLayout struct {
	Mint                 solana.PublicKey
	Owner                solana.PublicKey
	Amount               uint64
	DelegateOption       [4]byte
	Delegate             solana.PublicKey
	State                uint8
	IsNativeOption       [4]byte
	IsNative             uint64
	DelegatedAmount      uint64
	CloseAuthorityOption [4]byte
	CloseAuthority       solana.PublicKey
}

type binaryDecoder struct{}

func (binaryDecoder) decode(enc Encoding, blob string) (Record, error) {
	var (
		data []byte
		err  error
	)
	switch enc {
	case EncodingBase64:
		data, err = base64.StdEncoding.DecodeString(blob)
	case EncodingBase58:
		data, err = base58.Decode(blob)
	default:
		return Record{}, fmt.Errorf("%w: unsupported binary encoding %q", ErrDecode, enc)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s blob: %v", ErrDecode, enc, err)
	}

	if len(data) < tokenAccountSize {
		return Record{}, fmt.Errorf("%w: account data is %d bytes, want at least %d", ErrDecode, len(data), tokenAccountSize)
	}

	var layout tokenAccountLayout
	if err := bin.NewBinDecoder(data[:tokenAccountSize]).Decode(&layout); err != nil {
		return Record{}, fmt.Errorf("%w: token account layout: %v", ErrDecode, err)
	}

	state := State(layout.State)
	if state == StateUninitialized || state > StateFrozen {
		return Record{}, fmt.Errorf("%w: account state is %s", ErrDecode, state)
	}

	rec := Record{
		Amount:   layout.Amount,
		Mint:     layout.Mint,
		Owner:    layout.Owner,
		State:    state,
		IsNative: layout.IsNativeOption[0] == 1,
	}
	if layout.CloseAuthorityOption[0] == 1 {
		rec.CloseAuthority = layout.CloseAuthority
	}
	return rec, nil
}
