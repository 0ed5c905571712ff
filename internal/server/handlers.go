package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/linkstash/internal/auth"
	apperrors "github.com/alexjbarnes/linkstash/internal/errors"
	"github.com/alexjbarnes/linkstash/internal/models"
)

// Session modes accepted by the exchange endpoints.
const (
	SessionModeCookie = "cookie"
	SessionModeBearer = "bearer"
)

type tokenExchangeRequest struct {
	AccessToken string `json:"accessToken"`
	SessionMode string `json:"sessionMode"`
}

type codeExchangeRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	RedirectURI  string `json:"redirectUri"`
	CodeVerifier string `json:"codeVerifier"`
	SessionMode  string `json:"sessionMode"`
}

type exchangeResponse struct {
	User                             models.UserView `json:"user"`
	BearerToken                      string          `json:"bearerToken,omitempty"`
	BearerTokenExpiresAtEpochSeconds int64           `json:"bearerTokenExpiresAtEpochSeconds"`
}

type authStartResponse struct {
	URL string `json:"url"`
}

type spacesResponse struct {
	Spaces []models.Space `json:"spaces"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type linkCreateRequest struct {
	URL string `json:"url"`
}

type linkMoveRequest struct {
	SpaceID string `json:"spaceId"`
}

func parseSessionMode(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", SessionModeCookie:
		return SessionModeCookie, nil
	case SessionModeBearer:
		return SessionModeBearer, nil
	default:
		return "", apperrors.Validation("sessionMode must be cookie or bearer")
	}
}

// --- Auth ---

func (h *handlers) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var req tokenExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	mode, err := parseSessionMode(req.SessionMode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.auth.ExchangeToken(r.Context(), req.AccessToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.respondSession(w, res, mode)
}

func (h *handlers) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	url, err := h.auth.StartAuth(r.Context(), q.Get("redirectUri"), q.Get("codeVerifier"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authStartResponse{URL: url})
}

func (h *handlers) handleCodeExchange(w http.ResponseWriter, r *http.Request) {
	var req codeExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	mode, err := parseSessionMode(req.SessionMode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.auth.ExchangeCode(r.Context(), req.Code, req.State, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.respondSession(w, res, mode)
}

func (h *handlers) respondSession(w http.ResponseWriter, res *auth.ExchangeResult, mode string) {
	resp := exchangeResponse{
		User:                             res.User.View(),
		BearerTokenExpiresAtEpochSeconds: res.Session.ExpiresAt.Unix(),
	}

	if mode == SessionModeCookie {
		h.cookies.Set(w, res.Session.Token, res.Session.ExpiresAt)
	} else {
		resp.BearerToken = res.Session.Token
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), auth.RequestSessionID(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUser(r.Context(), auth.RequestUserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.View())
}

// --- Spaces ---

func (h *handlers) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	var spaces []models.Space

	err := h.withToken(r, func(userID, token string) error {
		var err error
		spaces, err = h.links.ListSpaces(r.Context(), userID, token)

		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if spaces == nil {
		spaces = []models.Space{}
	}

	writeJSON(w, http.StatusOK, spacesResponse{Spaces: spaces})
}

func (h *handlers) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var space *models.Space

	err := h.withToken(r, func(userID, token string) error {
		var err error
		space, err = h.links.CreateSpace(r.Context(), userID, token, req.Title)

		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, space)
}

func (h *handlers) handleRenameSpace(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var space *models.Space

	err := h.withToken(r, func(userID, token string) error {
		var err error
		space, err = h.links.RenameSpace(r.Context(), userID, token, r.PathValue("spaceId"), req.Title)

		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, space)
}

func (h *handlers) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	err := h.withToken(r, func(userID, token string) error {
		return h.links.DeleteSpace(r.Context(), userID, token, r.PathValue("spaceId"))
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Links ---

func (h *handlers) handleListLinks(w http.ResponseWriter, r *http.Request) {
	var page *models.LinkPage

	err := h.withToken(r, func(userID, token string) error {
		var err error
		page, err = h.links.ListLinks(r.Context(), userID, token, r.PathValue("spaceId"), r.URL.Query().Get("cursor"))

		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if page.Links == nil {
		page.Links = []models.Link{}
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req linkCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var link *models.Link

	err := h.withToken(r, func(userID, token string) error {
		var err error
		link, err = h.links.CreateLink(r.Context(), userID, token, r.PathValue("spaceId"), req.URL)

		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, link)
}

func (h *handlers) handleMoveLink(w http.ResponseWriter, r *http.Request) {
	var req linkMoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var link *models.Link

	err := h.withToken(r, func(userID, token string) error {
		var err error
		link, err = h.links.MoveLink(r.Context(), userID, token, r.PathValue("linkId"), req.SpaceID)

		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, link)
}

func (h *handlers) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	err := h.withToken(r, func(userID, token string) error {
		return h.links.DeleteLink(r.Context(), userID, token, r.PathValue("linkId"))
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// withToken runs fn for the authenticated user with a fresh upstream token.
func (h *handlers) withToken(r *http.Request, fn func(userID, token string) error) error {
	userID := auth.RequestUserID(r.Context())

	err := h.auth.WithFreshAccessToken(r.Context(), userID, func(token string) error {
		return fn(userID, token)
	})
	if apperrors.IsKind(err, apperrors.KindReauthRequired) {
		h.logger.Info("raindrop reauthorization required",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("user_id", userID),
		)
	}

	return err
}
