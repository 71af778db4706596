// Package auth issues and validates the bearer tokens that guard the HTTP API.
//
// Tokens are HS256-signed JWTs carrying a subject and a role:
//   - viewer: read device state, history and pairing flows
//   - operator: everything a viewer can do, plus entity writes and refreshes
//   - admin: everything, including pairing and removing devices
//
// Validation is signature-only. There are no user accounts or refresh
// tokens; operators mint tokens with `bonecod token`.
package auth
