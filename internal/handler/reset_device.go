package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hostedid/devicereset/internal/middleware"
	"github.com/hostedid/devicereset/internal/service"
)

// cancelAcknowledgement is returned for every cancel/report call so the
// response never reveals whether the token was live.
const cancelAcknowledgement = "Thank you. The device reset request has been closed."

// --- Internal trigger handlers (service token) ---

type resetRequestPayload struct {
	UserID string `json:"userId"`
}

// OpenResetRequest records that a user asked for a device reset
func (h *Handler) OpenResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestPayload
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	userID := strings.TrimSpace(req.UserID)

	resetReq, err := h.resetSvc.OpenRequest(withClient(r), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUser):
			writeError(w, http.StatusBadRequest, "validation_error", "userId is required")
		default:
			h.log.Error().Err(err).Msg("failed to open reset request")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to open reset request")
		}
		return
	}

	h.log.Info().
		Str("request_id", resetReq.ID).
		Str("caller", middleware.GetServiceSubject(r.Context())).
		Msg("reset device request opened")

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        resetReq.ID,
		"userId":    resetReq.UserID,
		"state":     resetReq.State,
		"createdAt": resetReq.CreatedAt,
	})
}

type grantResponse struct {
	Token string `json:"token"`
	Link  string `json:"link,omitempty"`
}

// GrantResetRequest issues a reset token for the user. The token appears only
// in this response.
func (h *Handler) GrantResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestPayload
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	token, err := h.resetSvc.GrantRequest(withClient(r), strings.TrimSpace(req.UserID))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUser):
			writeError(w, http.StatusBadRequest, "validation_error", "userId is required")
		case errors.Is(err, service.ErrKBANotEnrolled):
			writeError(w, http.StatusConflict, "kba_not_enrolled", "The user has no security question enrolled")
		default:
			h.log.Error().Err(err).Msg("failed to grant reset request")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to grant reset request")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, grantResponse{
		Token: token,
		Link:  h.resetSvc.ResetLink(token),
	})
}

// --- Public challenge handlers (token holder) ---

type challengeResponse struct {
	Question   string    `json:"question"`
	Options    []string  `json:"options"`
	ExpiresAt  time.Time `json:"expiresAt"`
	OtherValue string    `json:"otherValue"`
}

// GetChallenge returns the security question for a reset token
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "token is required")
		return
	}

	challenge, err := h.kbaSvc.LoadChallenge(withClient(r), token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenNotFound):
			writeError(w, http.StatusNotFound, "not_found", "This reset link is invalid or has expired")
		default:
			h.log.Error().Err(err).Msg("failed to load challenge")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load challenge")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, challengeResponse{
		Question:   challenge.Question,
		Options:    challenge.Options,
		ExpiresAt:  challenge.ExpiresAt,
		OtherValue: service.OptionOther,
	})
}

type answerPayload struct {
	Token  string `json:"token"`
	Option string `json:"option"`
	Answer string `json:"answer,omitempty"`
}

// SubmitAnswer checks the answer to the security question
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerPayload
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "token is required")
		return
	}

	result, err := h.kbaSvc.SubmitAnswer(withClient(r), req.Token, req.Option, req.Answer)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to submit answer")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to check answer")
		return
	}

	switch result.Outcome {
	case service.OutcomeSuccess:
		writeJSON(w, http.StatusOK, map[string]string{
			"outcome": string(result.Outcome),
			"message": "Your two-step verification device was reset. Set up a new device at your next sign-in.",
		})
	case service.OutcomeWrongAnswer:
		writeError(w, http.StatusUnprocessableEntity, string(result.Outcome), "That answer is not correct")
	case service.OutcomeNoOptionSelected:
		writeError(w, http.StatusBadRequest, string(result.Outcome), "Please select an answer")
	default:
		writeError(w, http.StatusNotFound, "not_found", "This reset link is invalid or has expired")
	}
}

type cancelPayload struct {
	Token string `json:"token"`
	// Only set means the owner is just withdrawing the request; unset means
	// the owner did not ask for it and reports fraud.
	Only bool `json:"only"`
}

// CancelResetRequest closes the request on behalf of the account owner
func (h *Handler) CancelResetRequest(w http.ResponseWriter, r *http.Request) {
	var req cancelPayload
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	ctx := withClient(r)
	var err error
	if req.Only {
		_, err = h.resetSvc.CancelRequest(ctx, req.Token)
	} else {
		_, err = h.resetSvc.ReportFraud(ctx, req.Token)
	}
	if err != nil {
		h.log.Error().Err(err).Bool("only", req.Only).Msg("failed to close reset request")
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": cancelAcknowledgement})
}
