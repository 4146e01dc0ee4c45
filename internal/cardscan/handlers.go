package cardscan

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/card-scanner/internal/imagecache"
	"github.com/zombor/card-scanner/internal/resolution"
	"github.com/zombor/card-scanner/internal/scanning"
)

const (
	messageQuota         = "scan limit reached, try again shortly"
	messageInternal      = "something went wrong, please try again"
	messageStorageFailed = "could not save the card image, please try again"
)

type errorResponse struct {
	Error        string `json:"error"`
	ErrorCode    string `json:"errorCode,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// scanResponse shadows ScanResult.Candidates so a single match carries no
// candidate list at all, while no match carries an empty one.
type scanResponse struct {
	*ScanResult
	Candidates *[]resolution.Candidate `json:"candidates,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, ErrorCode: code})
}

// decodeBody reads a JSON request body of at most limit bytes
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image is too large. Please resize your photo.", "too_large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_request")
		return false
	}
	return true
}

// decodeImageData decodes base64 image data, with or without a data URL
// prefix, and returns the bytes and their content type.
func decodeImageData(encoded string) ([]byte, string, error) {
	encoded = strings.TrimSpace(encoded)
	contentType := ""
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("%w: malformed data URL", ErrInvalidImage)
		}
		contentType, _, _ = strings.Cut(meta, ";")
		encoded = payload
	}
	if encoded == "" {
		return nil, "", fmt.Errorf("%w: image data required", ErrInvalidRequest)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, "", fmt.Errorf("%w: not base64: %w", ErrInvalidImage, err)
		}
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, strings.ToLower(contentType), nil
}

// bodyLimit allows for base64 growth plus the JSON envelope
func (s *Server) bodyLimit() int64 {
	return s.maxImageBytes*4/3 + 64<<10
}

// handleScan identifies the card in a photo
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ImageData string `json:"image_data"`
		GameHint  string `json:"game_hint"`
	}
	if !decodeBody(w, r, s.bodyLimit(), &body) {
		return
	}

	data, contentType, err := decodeImageData(body.ImageData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image data", "invalid_image")
		return
	}

	user := UserFromContext(r.Context())
	result, err := s.service.Scan(r.Context(), user, ScanRequest{
		ImageData:   data,
		ContentType: contentType,
		GameHint:    scanning.ParseGame(body.GameHint),
	})
	if err != nil {
		var quotaErr *QuotaError
		switch {
		case errors.As(err, &quotaErr):
			writeQuotaError(w, quotaErr)
		case errors.Is(err, ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request")
		case r.Context().Err() != nil:
			slog.Info("Scan abandoned by client", "user", user)
		default:
			slog.Error("Error scanning card", "user", user, "error", err)
			writeError(w, http.StatusInternalServerError, messageInternal, "internal")
		}
		return
	}

	response := scanResponse{ScanResult: result}
	if result.Candidates != nil {
		response.Candidates = &result.Candidates
	}
	writeJSON(w, http.StatusOK, response)
}

func writeQuotaError(w http.ResponseWriter, err *QuotaError) {
	seconds := int(math.Ceil(err.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:        messageQuota,
		ErrorCode:    "quota_exceeded",
		RetryAfterMs: max(err.RetryAfter.Milliseconds(), 1),
	})
}

// handleCommit stores the image of a card the user added to a collection
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ImageBase64 string `json:"imageBase64"`
		Game        string `json:"game"`
		CardName    string `json:"cardName"`
		SetName     string `json:"setName"`
		CardNumber  string `json:"cardNumber"`
		ProductID   string `json:"productId"`
	}
	if !decodeBody(w, r, s.bodyLimit(), &body) {
		return
	}

	data, contentType, err := decodeImageData(body.ImageBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image data", "invalid_image")
		return
	}

	result, err := s.service.Commit(r.Context(), CommitRequest{
		ImageData:   data,
		ContentType: contentType,
		Game:        body.Game,
		CardName:    body.CardName,
		SetName:     body.SetName,
		CardNumber:  body.CardNumber,
		ProductID:   body.ProductID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidImage):
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request")
		case errors.Is(err, imagecache.ErrStorage):
			slog.Error("Error storing card image", "card", body.CardName, "error", err)
			writeError(w, http.StatusBadGateway, messageStorageFailed, "storage_failure")
		default:
			slog.Error("Error committing card", "card", body.CardName, "error", err)
			writeError(w, http.StatusInternalServerError, messageInternal, "internal")
		}
		return
	}

	status := http.StatusCreated
	if result.Cached {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// handleLookupImage reports whether a card image is cached
func (s *Server) handleLookupImage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CardKey string `json:"cardKey"`
	}
	if !decodeBody(w, r, 64<<10, &body) {
		return
	}

	result, err := s.service.LookupImage(r.Context(), body.CardKey)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request")
			return
		}
		slog.Error("Error looking up card image", "card_key", body.CardKey, "error", err)
		writeError(w, http.StatusInternalServerError, messageInternal, "internal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleImage serves a stored card image
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("path")
	data, err := s.objects.Get(r.Context(), name)
	if err != nil {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", imagecache.ContentTypeFor(name))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
