// Package gateway serves the wa-broker HTTP API.
//
// A Gateway owns the session registry and exposes it over HTTP:
//
//	POST   /start-session           create a session and report ready, qr, or pending
//	GET    /check-login/{userId}    report ready, pending, or not_started
//	POST   /send-message            send a text message
//	POST   /send-pdf-url            send a text, then a PDF fetched from a URL
//	POST   /send-pdf-base64         send a base64 PDF with the message as caption
//	POST   /send-image-base64       send a base64 image with the message as caption
//	GET    /sessions                list live sessions
//	DELETE /sessions/{userId}       log a user out and purge their credentials
//	GET    /health, /health/ready   liveness and readiness
//
// Send endpoints validate their input before anything else, so malformed
// requests fail with 400 whatever state the session is in. Valid requests
// then wait on the readiness gate (sessions.ready_timeout) and fail with 500
// if the session does not become ready in time. Errors are returned as
// {"error": "..."}.
//
// The server listens on a TCP address (PORT, default 3000) or, when
// tailscale.enabled is set, on a tsnet node.
package gateway
