// Package models defines the records the vault server persists: accounts,
// categorised vaults and the entries inside them.
package models
