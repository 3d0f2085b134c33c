package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/postera-labs/settle/proof"
	"github.com/postera-labs/settle/settle"
	"github.com/postera-labs/settle/types"
)

// maxBodyBytes bounds request bodies; settlement payloads are tiny.
const maxBodyBytes = 1 << 20

var validate = validator.New()

type sponsorRequest struct {
	AmountUSDC string `json:"amountUsdc" validate:"required"`
}

func postIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		return uuid.Nil, types.NewNotFound("post not found")
	}
	return id, nil
}

func payerFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(proof.HeaderPayerAddress))
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// GetPost returns the post view the caller is entitled to. Paywalled posts
// without a grant for the requesting payer come back stripped of their
// body fields.
func (s *Server) GetPost(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.svc.PreviewPost(r.Context(), postID, payerFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"post": view})
}

// UnlockPost drives the read-unlock state machine: 402 challenge without a
// proof, settled content with one, and idempotent access for payers that
// already hold a grant.
func (s *Server) UnlockPost(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, types.NewValidation("unreadable request body"))
		return
	}

	p := proof.FromRequest(r.Header, body, s.network)
	out, err := s.svc.UnlockPost(r.Context(), postID, payerFromRequest(r), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch out.State {
	case settle.UnlockChallenge:
		s.writePaymentRequired(w, out.Challenge)
	case settle.UnlockSettled:
		s.writeJSON(w, http.StatusCreated, map[string]any{
			"post":    out.Post,
			"receipt": out.Receipt,
		})
	default: // free or already granted
		s.writeJSON(w, http.StatusOK, map[string]any{
			"post":    out.Post,
			"granted": out.State == settle.UnlockGranted,
		})
	}
}

// SponsorPost drives the pay-what-you-want state machine for free posts.
func (s *Server) SponsorPost(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, types.NewValidation("unreadable request body"))
		return
	}

	var req sponsorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, types.NewValidation("request body must be JSON with amountUsdc"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, r, types.NewValidation("amountUsdc is required"))
		return
	}

	p := proof.FromRequest(r.Header, body, s.network)
	out, err := s.svc.Sponsor(r.Context(), postID, payerFromRequest(r), req.AmountUSDC, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch out.State {
	case settle.SponsorChallenge:
		s.writePaymentRequired(w, out.Challenge)
	default:
		s.writeJSON(w, http.StatusCreated, map[string]any{
			"receipt":       out.Receipt,
			"sponsorship7d": out.Rolling,
		})
	}
}
