// Package services holds the vault server's business logic. VaultService owns
// every read-modify-write of a user's category vaults; UserService registers
// and authenticates accounts. Both serialise mutations of one stored resource
// through a shared locks.Table and finish writes even if the caller goes away.
package services
