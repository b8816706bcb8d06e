package solana

import (
	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// Account sizes owned by the token programs.
const (
	// TokenAccountSize is the base SPL token account layout. Token-2022
	// accounts with extensions are longer but start with the same layout.
	TokenAccountSize = 165

	// MintSize is the SPL mint layout.
	MintSize = 82
)

// IsTokenProgram reports whether id is one of the token programs dustpan can clean.
func IsTokenProgram(id solana.PublicKey) bool {
	return id.Equals(TokenProgramID) || id.Equals(Token2022ProgramID)
}

// ProgramName returns a short label for a token program, for logs and reports.
func ProgramName(id solana.PublicKey) string {
	switch {
	case id.Equals(TokenProgramID):
		return "spl-token"
	case id.Equals(Token2022ProgramID):
		return "spl-token-2022"
	default:
		return id.String()
	}
}

// LamportsToSOL converts lamports to SOL for display.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}

// SignedLamportsToSOL converts a signed lamport delta to SOL for display.
func SignedLamportsToSOL(lamports int64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}
