package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/internal/services"
)

// KeyIssuer creates API keys
type KeyIssuer interface {
	Issue(ctx context.Context, name, owner string) (*services.IssuedKey, error)
}

type KeyHandler struct {
	keys     KeyIssuer
	throttle *rate.Limiter
}

// NewKeyHandler allows perMinute issuances per minute with a burst of the same size.
func NewKeyHandler(keys KeyIssuer, perMinute int) *KeyHandler {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &KeyHandler{
		keys:     keys,
		throttle: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// CreateKey issues a new API key. The plaintext secret appears only in this response.
// PUT /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	if !h.throttle.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var input struct {
		KeyName    string `json:"key_name"`
		OwnerEmail string `json:"owner_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid input")
		return
	}

	issued, err := h.keys.Issue(r.Context(), input.KeyName, input.OwnerEmail)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, models.ErrDuplicateName):
			writeError(w, http.StatusConflict, "key name already exists")
		default:
			log.Error().Err(err).Msg("Failed to issue key")
			writeError(w, http.StatusInternalServerError, "failed to issue key")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, issued)
}
