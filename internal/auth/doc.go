// Package auth issues and validates operator bearer tokens.
//
// The hub has no user accounts. Operators present an HS256 JWT signed
// with the configured secret; the token's role decides what the API
// allows:
//   - viewer: read devices, queues and the live event feed
//   - operator: also trust or forget devices, trigger scans and send commands
//
// Tokens are minted with `fieldlink token -subject <name> -role <role>`.
package auth
