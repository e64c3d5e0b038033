// ABOUTME: HTTP API handlers for starting sessions, checking login, and sending messages.
// ABOUTME: Validates input first, then waits on the readiness gate before touching a backend client.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/2389/wa-broker/internal/auth"
	"github.com/2389/wa-broker/internal/backend"
	"github.com/2389/wa-broker/internal/media"
	"github.com/2389/wa-broker/internal/qrcode"
	"github.com/2389/wa-broker/internal/session"
	"github.com/2389/wa-broker/internal/store"
)

// Session status values reported by start-session and check-login.
const (
	StatusReady      = "ready"
	StatusQR         = "qr"
	StatusPending    = "pending"
	StatusNotStarted = "not_started"
	StatusSent       = "sent"
)

const (
	// minNumberDigits is the shortest destination number accepted.
	minNumberDigits = 10
	// userServer is the JID server suffix for individual chats.
	userServer = "@s.whatsapp.net"

	defaultPDFName = "document.pdf"
	pdfMimeType    = "application/pdf"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// ValidationError reports missing or malformed request input. It always maps to 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StartSessionRequest is the JSON request body for POST /start-session.
type StartSessionRequest struct {
	UserID string `json:"userId"`
}

// SendRequest is the JSON request body shared by the send endpoints.
// Each endpoint reads the payload field it needs.
type SendRequest struct {
	UserID      string `json:"userId"`
	Number      string `json:"number"`
	Message     string `json:"message"`
	PDFURL      string `json:"pdfUrl,omitempty"`
	PDFBase64   string `json:"pdfBase64,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	FileName    string `json:"filename,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// StatusResponse is the JSON response for session and send endpoints.
type StatusResponse struct {
	Status string `json:"status"`
	QR     string `json:"qr,omitempty"`
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// sendError maps an error to its HTTP status and writes it.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, userID string, err error) {
	var verr *ValidationError
	var ferr *media.FetchError
	switch {
	case errors.As(err, &verr):
		g.sendJSONError(w, http.StatusBadRequest, verr.Message)
		return
	case errors.Is(err, store.ErrInvalidUserID):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrSessionNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.As(err, &ferr):
		g.logger.Warn("media fetch failed", "user_id", userID, "url", ferr.URL, "status", ferr.StatusCode, "error", ferr.Err)
	default:
		g.logger.Error("request failed",
			"path", r.URL.Path,
			"user_id", userID,
			"caller", auth.SubjectFromContext(r.Context()),
			"error", err,
		)
	}
	g.sendJSONError(w, http.StatusInternalServerError, err.Error())
}

// maxBodyBytes bounds request bodies: a base64 payload of the largest allowed
// media plus room for the other fields.
func (g *Gateway) maxBodyBytes() int64 {
	return g.config.Media.MaxBytes/3*4 + 64<<10
}

// decodeBody checks the Content-Type and decodes a bounded JSON body into v.
// Returns the HTTP status to use on failure.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) (int, error) {
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			return http.StatusUnsupportedMediaType, errors.New("content-type must be application/json")
		}
	}

	body := http.MaxBytesReader(w, r.Body, g.maxBodyBytes())
	if err := parseJSON(body, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

// parseJSON decodes a single JSON object from the given reader.
func parseJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// normalizeNumber strips every non-digit and returns the individual-chat JID.
func normalizeNumber(number string) (string, error) {
	var b strings.Builder
	for _, c := range number {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	if b.Len() < minNumberDigits {
		return "", invalidf("number must contain at least %d digits", minNumberDigits)
	}
	return b.String() + userServer, nil
}

// validateSend checks the fields common to every send endpoint and returns
// the destination JID.
func validateSend(req *SendRequest) (string, error) {
	if req.UserID == "" {
		return "", invalidf("userId is required")
	}
	if err := store.ValidateUserID(req.UserID); err != nil {
		return "", invalidf("userId is invalid")
	}
	if req.Number == "" {
		return "", invalidf("number is required")
	}
	if req.Message == "" {
		return "", invalidf("message is required")
	}
	return normalizeNumber(req.Number)
}

// ensureReady creates the user's session if needed and waits for it to be Ready.
func (g *Gateway) ensureReady(ctx context.Context, userID string) (backend.Client, error) {
	if _, _, err := g.registry.Ensure(userID); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	return g.registry.AwaitReady(ctx, userID, g.config.Sessions.ReadyTimeout)
}

// handleStartSession handles POST /start-session.
// It creates the session if absent, waits the start grace, and reports where
// the login stands.
func (g *Gateway) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if status, err := g.decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}
	if req.UserID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	s, created, err := g.registry.Ensure(req.UserID)
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}
	g.logger.Info("start-session", "user_id", req.UserID, "created", created, "generation", s.Generation)

	if s.State() != session.StateReady {
		if err := sleepCtx(r.Context(), g.config.Sessions.StartGrace); err != nil {
			return
		}
	}

	// Re-resolve: the session may have been replaced during the grace period.
	if cur, ok := g.registry.Get(req.UserID); ok {
		s = cur
	}
	snap := s.Snapshot()

	switch {
	case snap.State == session.StateReady:
		g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusReady})
	case snap.QR != "":
		uri, err := qrcode.DataURI(snap.QR, qrcode.DefaultSize)
		if err != nil {
			g.sendError(w, r, req.UserID, fmt.Errorf("rendering QR: %w", err))
			return
		}
		g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusQR, QR: uri})
	default:
		g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusPending})
	}
}

// handleCheckLogin handles GET /check-login/{userId}.
// A user with stored credentials but no live session is resumed.
func (g *Gateway) handleCheckLogin(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := store.ValidateUserID(userID); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "userId is invalid")
		return
	}

	if s, ok := g.registry.Get(userID); ok {
		status := StatusPending
		if s.State() == session.StateReady {
			status = StatusReady
		}
		g.sendJSON(w, http.StatusOK, StatusResponse{Status: status})
		return
	}

	if !g.registry.HasAuth(userID) {
		g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusNotStarted})
		return
	}

	if _, _, err := g.registry.Ensure(userID); err != nil {
		g.sendError(w, r, userID, err)
		return
	}
	g.logger.Info("resuming stored session", "user_id", userID)
	g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusPending})
}

// handleSendMessage handles POST /send-message.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if status, err := g.decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}
	to, err := validateSend(&req)
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}

	client, err := g.ensureReady(r.Context(), req.UserID)
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}
	if err := client.SendText(r.Context(), to, req.Message); err != nil {
		g.sendError(w, r, req.UserID, fmt.Errorf("sending message: %w", err))
		return
	}

	g.logger.Info("message sent", "user_id", req.UserID, "kind", "text")
	g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusSent})
}

// handleSendPDFURL handles POST /send-pdf-url.
// The message goes out as its own text, followed by the fetched document.
func (g *Gateway) handleSendPDFURL(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if status, err := g.decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}
	to, err := validateSend(&req)
	if err == nil {
		err = validatePDFURL(req.PDFURL)
	}
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}

	client, err := g.ensureReady(r.Context(), req.UserID)
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}

	doc, err := g.fetcher.Fetch(r.Context(), req.PDFURL)
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}

	if err := client.SendText(r.Context(), to, req.Message); err != nil {
		g.sendError(w, r, req.UserID, fmt.Errorf("sending message: %w", err))
		return
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = doc.FileName
	}
	if fileName == "" {
		fileName = defaultPDFName
	}
	mimeType := doc.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" || strings.HasPrefix(mimeType, "text/plain") {
		mimeType = pdfMimeType
	}

	if err := client.SendDocument(r.Context(), to, backend.Document{
		Data:     doc.Data,
		FileName: fileName,
		MimeType: mimeType,
	}); err != nil {
		g.sendError(w, r, req.UserID, fmt.Errorf("sending document: %w", err))
		return
	}

	g.logger.Info("message sent", "user_id", req.UserID, "kind", "pdf_url", "bytes", len(doc.Data))
	g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusSent})
}

func validatePDFURL(raw string) error {
	if raw == "" {
		return invalidf("pdfUrl is required")
	}
	if err := media.ValidateURL(raw); err != nil {
		return invalidf("pdfUrl must be an http or https URL")
	}
	return nil
}

// handleSendPDFBase64 handles POST /send-pdf-base64.
// The document is sent once with the message as its caption.
func (g *Gateway) handleSendPDFBase64(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if status, err := g.decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}
	to, err := validateSend(&req)
	if err == nil && req.PDFBase64 == "" {
		err = invalidf("pdfBase64 is required")
	}
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}

	data, _, err := media.DecodeBase64(req.PDFBase64)
	if err != nil {
		g.sendError(w, r, req.UserID, invalidf("pdfBase64 is not valid base64"))
		return
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = defaultPDFName
	}

	client, err := g.ensureReady(r.Context(), req.UserID)
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}
	if err := client.SendDocument(r.Context(), to, backend.Document{
		Data:     data,
		FileName: fileName,
		MimeType: pdfMimeType,
		Caption:  req.Message,
	}); err != nil {
		g.sendError(w, r, req.UserID, fmt.Errorf("sending document: %w", err))
		return
	}

	g.logger.Info("message sent", "user_id", req.UserID, "kind", "pdf_base64", "bytes", len(data))
	g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusSent})
}

// handleSendImageBase64 handles POST /send-image-base64.
// The caller's mimeType is passed through to the backend unchanged.
func (g *Gateway) handleSendImageBase64(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if status, err := g.decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}
	to, err := validateSend(&req)
	if err == nil {
		switch {
		case req.ImageBase64 == "":
			err = invalidf("imageBase64 is required")
		case req.MimeType == "":
			err = invalidf("mimeType is required")
		}
	}
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}

	data, _, err := media.DecodeBase64(req.ImageBase64)
	if err != nil {
		g.sendError(w, r, req.UserID, invalidf("imageBase64 is not valid base64"))
		return
	}

	client, err := g.ensureReady(r.Context(), req.UserID)
	if err != nil {
		g.sendError(w, r, req.UserID, err)
		return
	}
	if err := client.SendImage(r.Context(), to, backend.Image{
		Data:     data,
		FileName: req.FileName,
		MimeType: req.MimeType,
		Caption:  req.Message,
	}); err != nil {
		g.sendError(w, r, req.UserID, fmt.Errorf("sending image: %w", err))
		return
	}

	g.logger.Info("message sent", "user_id", req.UserID, "kind", "image_base64", "bytes", len(data))
	g.sendJSON(w, http.StatusOK, StatusResponse{Status: StatusSent})
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
