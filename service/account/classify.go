package account

import (
	"errors"
)

// Class is the action a token account calls for.
type Class string

const (
	// Dust holds a non-zero balance: burn it, then close.
	Dust Class = "dust"
	// Idle holds nothing but still locks a rent deposit: close.
	Idle Class = "idle"
	// Keep is left untouched.
	Keep Class = "keep"
)

// Actionable reports whether the class leads to a close.
func (c Class) Actionable() bool {
	return c == Dust || c == Idle
}

// Classify is the binary partition on balance.
func Classify(rec Record) Class {
	if rec.Amount > 0 {
		return Dust
	}
	return Idle
}

// Decision is a class plus, for Keep, the reason the account is left alone.
type Decision struct {
	Class  Class
	Reason string
}

// Decide classifies an account given its decoded record and the error, if
// any, from decoding it. Accounts that cannot safely be burned or closed are
// kept.
func Decide(rec Record, decodeErr error) Decision {
	switch {
	case errors.Is(decodeErr, ErrMissingAmount):
		return Decision{Class: Keep, Reason: "token amount missing"}
	case decodeErr != nil:
		return Decision{Class: Keep, Reason: "undecodable account data"}
	case rec.State == StateFrozen:
		return Decision{Class: Keep, Reason: "account is frozen"}
	case rec.IsNative && rec.Amount > 0:
		return Decision{Class: Keep, Reason: "wrapped SOL with a balance"}
	case !rec.CloseAuthority.IsZero() && !rec.CloseAuthority.Equals(rec.Owner):
		// only the owner's key signs a cleanup
		return Decision{Class: Keep, Reason: "close authority is another key"}
	}
	return Decision{Class: Classify(rec)}
}
