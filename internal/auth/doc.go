// Package auth provides optional bearer-token authentication for wa-broker.
//
// When auth.jwt_secret is configured, every API endpoint except the health
// checks requires an HS256 JWT:
//
//	verifier, err := auth.NewJWTVerifier([]byte(secret))
//	handler = auth.HTTPAuthMiddleware(verifier, logger)(handler)
//
// Tokens must carry the "wa-broker" issuer, an expiry, and a non-empty "sub"
// claim naming the caller. The subject is available to handlers through
// SubjectFromContext and is logged with each request. Tokens are minted with
// `wa-broker token --subject NAME`.
package auth
