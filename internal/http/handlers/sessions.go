package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"server/internal/middleware"
	"server/internal/session"
)

// allowedMimeTypes is the accept list enforced at the upload boundary.
var allowedMimeTypes = []string{"image/png", "image/jpeg", "image/webp"}

type sessionResponse struct {
	SessionID string                  `json:"session_id"`
	Prompt    string                  `json:"prompt"`
	Reference *session.ReferenceImage `json:"reference,omitempty"`
	State     session.RenderState     `json:"state"`
}

type promptUpdateRequest struct {
	Prompt string `json:"prompt"`
}

func (a *App) snapshot(id string, shell *session.Shell) sessionResponse {
	return sessionResponse{
		SessionID: id,
		Prompt:    shell.Prompt(),
		Reference: shell.Reference(),
		State:     shell.State(),
	}
}

func (a *App) shellFromRequest(w http.ResponseWriter, r *http.Request) (string, *session.Shell, bool) {
	id := chi.URLParam(r, "session_id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "session_id required")
		return "", nil, false
	}
	shell, ok := a.Sessions.Get(id)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "session not found")
		return "", nil, false
	}
	return id, shell, true
}

// SessionCreate opens a fresh page session with the default prompt, no
// reference image and an idle render state.
func (a *App) SessionCreate(w http.ResponseWriter, r *http.Request) {
	id, shell := a.Sessions.Create()
	a.Logger.Debug().Str("session_id", id).Msg("session created")
	a.json(w, http.StatusCreated, a.snapshot(id, shell))
}

// SessionState returns the current snapshot.
func (a *App) SessionState(w http.ResponseWriter, r *http.Request) {
	id, shell, ok := a.shellFromRequest(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, a.snapshot(id, shell))
}

// PromptUpdate replaces the prompt text wholesale.
func (a *App) PromptUpdate(w http.ResponseWriter, r *http.Request) {
	id, shell, ok := a.shellFromRequest(w, r)
	if !ok {
		return
	}
	var req promptUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	shell.SetPrompt(req.Prompt)
	a.json(w, http.StatusOK, a.snapshot(id, shell))
}

// ImageSelect accepts a multipart upload and stores it as the session's
// reference image. Oversized files are rejected before the body is read into
// the session, and only png/jpeg/webp pass the boundary.
func (a *App) ImageSelect(w http.ResponseWriter, r *http.Request) {
	id, shell, ok := a.shellFromRequest(w, r)
	if !ok {
		return
	}

	// Cap the whole request a little above the image limit so multipart
	// framing does not push a maximal file over the edge.
	r.Body = http.MaxBytesReader(w, r.Body, session.MaxImageBytes+64*1024)
	file, header, err := r.FormFile("image")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "image file required")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if !lo.Contains(allowedMimeTypes, mimeType) {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_type", "image must be png, jpeg or webp")
		return
	}

	if err := shell.SelectImage(header.Filename, mimeType, header.Size, file); err != nil {
		a.Logger.Debug().Str("session_id", id).Err(err).Msg("image selection rejected")
		a.error(w, http.StatusUnprocessableEntity, "invalid_image", err.Error())
		return
	}
	a.json(w, http.StatusOK, a.snapshot(id, shell))
}

// ImageClear removes the reference image so the same file can be re-selected.
func (a *App) ImageClear(w http.ResponseWriter, r *http.Request) {
	id, shell, ok := a.shellFromRequest(w, r)
	if !ok {
		return
	}
	shell.ClearImage()
	a.json(w, http.StatusOK, a.snapshot(id, shell))
}

// Generate runs one edit attempt against the editor and returns the resulting
// render state. A session with an attempt already in flight is refused.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	id, shell, ok := a.shellFromRequest(w, r)
	if !ok {
		return
	}

	requestID := middleware.RequestIDFromContext(r.Context())
	state, err := shell.Generate(r.Context(), a.Editor, requestID)
	if err != nil {
		if errors.Is(err, session.ErrGenerationInFlight) {
			a.error(w, http.StatusConflict, "generation_in_flight", err.Error())
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if state.Phase == session.PhaseSucceeded {
		a.dumpResult(r, id, requestID, state.ImageURL)
	} else if state.Phase == session.PhaseFailed {
		a.Logger.Info().Str("session_id", id).Str("request_id", requestID).Str("reason", state.Message).Msg("generation failed")
	}
	a.json(w, http.StatusOK, a.snapshot(id, shell))
}

// dumpResult writes a side copy of the generated image when an asset dump is
// configured. Failures are logged and never surface to the user.
func (a *App) dumpResult(r *http.Request, sessionID, requestID, imageURL string) {
	if a.Assets == nil {
		return
	}
	_, payload, err := session.ParseDataURL(imageURL)
	if err != nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		a.Logger.Warn().Str("session_id", sessionID).Err(err).Msg("asset dump: undecodable payload")
		return
	}
	key := fmt.Sprintf("generated/%s/%s.jpg", sessionID, requestID)
	if _, err := a.Assets.Write(r.Context(), key, data); err != nil {
		a.Logger.Warn().Str("session_id", sessionID).Err(err).Msg("asset dump: write failed")
	}
}
