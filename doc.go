// Package scriptvault is the composition root of the ScriptVault client.
//
// It connects the protocol core (pkg/core) with its adapters: the registry contract over
// JSON-RPC, the confidential-compute relayer, a local key wallet and a durable session
// store.
//
// Model:
//
// Authors register works on a public registry, sell licenses for them and grant each
// licensee an encrypted access scope. Scopes are never visible on chain: they are
// encrypted before submission and can only be decrypted by the licensee, through a
// decryption session that the licensee signs once and that is cached locally.
//
// Features:
//
//   - **Encrypted inputs**: scope values are sealed to the compute service and bound to the contract and sender.
//   - **Decryption sessions**: one typed-data signature per identity and contract set, reused until expiry.
//   - **Access grants**: authorship is checked before anything is encrypted or submitted.
//   - **Auto-grant**: a supervised reactor grants access as soon as a license sells (see pkg/reactor).
//   - **Pluggable stores**: filesystem (default), SQLite or memory, sealed at rest when a secret is set.
//
// Usage:
//
//	cfg, err := scriptvault.LoadConfig("")
//	rt, err := scriptvault.Open(ctx, cfg, scriptvault.WithLogger(logger))
//	defer rt.Close()
//
//	// Grant scope 2 on work 7, then read it back as the licensee.
//	_, err = rt.Service.GrantAccess(ctx, 7, licensee, 0, 2)
//	scope, err := rt.Service.ReadScope(ctx, 7)
package scriptvault
