// Package dedupe remembers the outcome of recently completed requests so a
// retried request carrying the same Idempotency-Key is answered from the
// cache instead of sending the message a second time.
//
// A key moves through three states: absent, in flight (Begin returned
// Proceed), and done (Complete stored a result). Failed attempts are
// released with Abort so the caller can retry them. Entries expire after
// the configured TTL and the oldest entry is evicted once the cache is full.
package dedupe
