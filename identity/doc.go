// Package identity generates the identifiers used by the ledger.
//
// Transaction and subscription identifiers are cryptographically-strong,
// random 128 bit numbers encoded in Base36, which keeps them short and
// fixed-length:
//
//	txID := identity.NewID()
//
// Linear identifiers follow the UUID form used by ledger clients, so that a
// chain can be named by the party that starts it before it is committed:
//
//	linearID := identity.NewLinearID()
package identity
