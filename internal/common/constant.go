package common

// Persisted resource names. Vault resources live under VaultsDir/<user>/<category>.json.
const (
	AccountsResource = "accounts/accounts.json"
	VaultsDir        = "account_vaults"
	VaultExt         = ".json"
)

// MaxFrameSize bounds a single wire message in either direction.
const MaxFrameSize = 64 * 1024
