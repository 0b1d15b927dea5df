package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"server/internal/providers/image"
)

// MaxImageBytes caps accepted reference images at 4 MiB.
const MaxImageBytes = 4 << 20

// DefaultPrompt is the non-empty starting prompt of a fresh session.
const DefaultPrompt = "Transform this photo into a professional studio portrait with soft lighting"

// User-facing messages for the attempt-local error taxonomy.
const (
	msgMissingImage  = "please upload a reference image first"
	msgOversizeImage = "image must be smaller than 4MB"
	msgReadFailure   = "failed to read the selected image"
	msgUnknownError  = "unknown error occurred"
)

// ErrGenerationInFlight rejects a generate while one is already running. It is
// the server-side analogue of the disabled trigger in the UI.
var ErrGenerationInFlight = errors.New("generation already in progress")

// Phase names one of the four mutually exclusive render states.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseFailed    Phase = "failed"
	PhaseSucceeded Phase = "succeeded"
)

// RenderState is the tagged variant driving the UI: Message is set only for
// PhaseFailed, ImageURL only for PhaseSucceeded. The variant makes the
// error/result mutual exclusion structural rather than a convention over
// independent flags.
type RenderState struct {
	Phase    Phase  `json:"phase"`
	Message  string `json:"message,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ReferenceImage is the user-supplied photo conditioning the edit, kept both
// as metadata and as a data-URL preview.
type ReferenceImage struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	DataURL  string `json:"data_url"`
}

// Shell owns the state of one page session: the prompt, the current reference
// image and the render state. All mutation goes through its operations under
// one mutex, mirroring the single-threaded event loop the UI runs on.
type Shell struct {
	mu     sync.Mutex
	prompt string
	ref    *ReferenceImage
	state  RenderState
}

func NewShell() *Shell {
	return &Shell{
		prompt: DefaultPrompt,
		state:  RenderState{Phase: PhaseIdle},
	}
}

// Prompt returns the current prompt text.
func (s *Shell) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// SetPrompt replaces the prompt wholesale. No validation, matching the
// keystroke-level replacement in the UI.
func (s *Shell) SetPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
}

// Reference returns a copy of the current reference image, or nil.
func (s *Shell) Reference() *ReferenceImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ref == nil {
		return nil
	}
	ref := *s.ref
	return &ref
}

// State returns the current render state snapshot.
func (s *Shell) State() RenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelectImage reads the file into a base64 data URL and stores it as the
// current reference image, clearing any existing error. Files over 4 MiB are
// rejected up front and on the wire; a failed read leaves the prior image
// untouched. This is the only operation that produces a reference image.
func (s *Shell) SelectImage(name, mimeType string, declaredSize int64, r io.Reader) error {
	if declaredSize > MaxImageBytes {
		s.fail(msgOversizeImage)
		return errors.New(msgOversizeImage)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		s.fail(msgReadFailure)
		return errors.New(msgReadFailure)
	}
	if int64(len(data)) > MaxImageBytes {
		s.fail(msgOversizeImage)
		return errors.New(msgOversizeImage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = &ReferenceImage{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		DataURL:  EncodeDataURL(mimeType, data),
	}
	if s.state.Phase == PhaseFailed {
		s.state = RenderState{Phase: PhaseIdle}
	}
	return nil
}

// ClearImage unconditionally removes the current reference image.
func (s *Shell) ClearImage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = nil
}

// Generate runs one edit attempt: it validates the stored data URL, invokes
// the editor once, and relabels the returned payload as a JPEG data URL. The
// loading phase covers exactly the duration of the attempt, and error and
// result can never be set at once. No retry, no cancellation of an attempt
// already in flight.
func (s *Shell) Generate(ctx context.Context, editor image.Editor, requestID string) (RenderState, error) {
	s.mu.Lock()
	if s.state.Phase == PhaseLoading {
		state := s.state
		s.mu.Unlock()
		return state, ErrGenerationInFlight
	}
	if s.ref == nil {
		s.state = RenderState{Phase: PhaseFailed, Message: msgMissingImage}
		state := s.state
		s.mu.Unlock()
		return state, nil
	}
	s.state = RenderState{Phase: PhaseLoading}
	prompt := s.prompt
	dataURL := s.ref.DataURL
	s.mu.Unlock()

	state := s.attempt(ctx, editor, requestID, prompt, dataURL)

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return state, nil
}

func (s *Shell) attempt(ctx context.Context, editor image.Editor, requestID, prompt, dataURL string) RenderState {
	mimeType, payload, err := ParseDataURL(dataURL)
	if err != nil {
		return RenderState{Phase: PhaseFailed, Message: errorMessage(err)}
	}

	result, err := editor.EditWithReference(ctx, image.EditRequest{
		Prompt:    prompt,
		ImageData: payload,
		MimeType:  mimeType,
		RequestID: requestID,
	})
	if err != nil {
		return RenderState{Phase: PhaseFailed, Message: errorMessage(err)}
	}

	// The result is always presented as JPEG regardless of the encoding the
	// service actually returned.
	return RenderState{Phase: PhaseSucceeded, ImageURL: "data:image/jpeg;base64," + result}
}

func (s *Shell) fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = RenderState{Phase: PhaseFailed, Message: message}
}

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return msgUnknownError
	}
	return err.Error()
}
