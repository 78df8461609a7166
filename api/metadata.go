package api

// Metadata keys carrying the caller's credentials on every RPC.
const (
	MetadataUser     = "ledgerkit-user"
	MetadataPassword = "ledgerkit-password"
)
