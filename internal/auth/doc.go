// Package auth protects the channel webhook endpoints.
//
// The VS Agent calls the concierge's webhooks. When a JWT secret is
// configured, every webhook request must carry
//
//	Authorization: Bearer <token>
//
// where the token is an HS256 JWT signed with that secret. The "sub" claim
// names the caller and is stored on the request context (see
// SubjectFromContext). Tokens can be minted with the CLI's token command.
//
// The health endpoint is never authenticated.
package auth
