// ABOUTME: Idempotency-Key handling for the send endpoints
// ABOUTME: Replays a completed send's response and rejects concurrent duplicates with 409

package gateway

import (
	"bytes"
	"net/http"

	"github.com/2389/wa-broker/internal/auth"
	"github.com/2389/wa-broker/internal/dedupe"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
)

// recordingWriter copies the response so it can be replayed later.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// idempotent wraps a send handler. Requests without an Idempotency-Key pass
// straight through. Only successful responses are remembered, so a failed
// send can be retried with the same key.
func (g *Gateway) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			next(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			g.sendJSONError(w, http.StatusBadRequest, "Idempotency-Key is too long")
			return
		}

		// Keys are scoped to the caller and the endpoint.
		cacheKey := auth.SubjectFromContext(r.Context()) + "\x00" + r.URL.Path + "\x00" + key

		outcome, res := g.replays.Begin(cacheKey)
		switch outcome {
		case dedupe.Replay:
			g.logger.Info("replaying completed request", "path", r.URL.Path, "idempotency_key", key)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(res.Status)
			_, _ = w.Write(res.Body)
			return
		case dedupe.InFlight:
			g.sendJSONError(w, http.StatusConflict, "a request with this Idempotency-Key is already in progress")
			return
		}

		rec := &recordingWriter{ResponseWriter: w}
		completed := false
		defer func() {
			if !completed {
				g.replays.Abort(cacheKey)
			}
		}()

		next(rec, r)

		if rec.status >= 200 && rec.status < 300 {
			g.replays.Complete(cacheKey, dedupe.Result{Status: rec.status, Body: bytes.Clone(rec.body.Bytes())})
			completed = true
		}
	}
}
