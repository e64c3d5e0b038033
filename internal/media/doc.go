// Package media turns the media references of send requests into bytes.
//
// Remote documents are downloaded by a Fetcher with a request timeout and a
// size cap; any failure comes back as a *FetchError so callers can map it to
// a downstream error. Inline payloads are decoded by DecodeBase64, which also
// accepts data URIs and reports their media type.
package media
