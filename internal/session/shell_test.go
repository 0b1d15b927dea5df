package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"server/internal/providers/image"
)

type stubEditor struct {
	mu      sync.Mutex
	calls   int
	lastReq image.EditRequest
	result  string
	err     error
	release chan struct{}
}

func (e *stubEditor) EditWithReference(ctx context.Context, req image.EditRequest) (string, error) {
	e.mu.Lock()
	e.calls++
	e.lastReq = req
	release := e.release
	e.mu.Unlock()
	if release != nil {
		<-release
	}
	return e.result, e.err
}

func (e *stubEditor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *stubEditor) request() image.EditRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReq
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func selectPNG(t *testing.T, s *Shell, data []byte) {
	t.Helper()
	if err := s.SelectImage("photo.png", "image/png", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("SelectImage error: %v", err)
	}
}

func TestSelectImageRejectsOversizeDeclaredSize(t *testing.T) {
	s := NewShell()
	err := s.SelectImage("big.png", "image/png", MaxImageBytes+1, bytes.NewReader(nil))
	if err == nil {
		t.Fatalf("expected oversize rejection")
	}
	if s.Reference() != nil {
		t.Fatalf("reference image must not be set on rejection")
	}
	if state := s.State(); state.Phase != PhaseFailed {
		t.Fatalf("expected failed state, got %s", state.Phase)
	}
}

func TestSelectImageRejectsOversizeBody(t *testing.T) {
	s := NewShell()
	data := bytes.Repeat([]byte{0xAB}, MaxImageBytes+1)
	// Declared size lies; the byte count still wins.
	err := s.SelectImage("big.png", "image/png", 10, bytes.NewReader(data))
	if err == nil {
		t.Fatalf("expected oversize rejection")
	}
	if s.Reference() != nil {
		t.Fatalf("reference image must not be set on rejection")
	}
}

func TestSelectImageRoundTrip(t *testing.T) {
	s := NewShell()
	data := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}
	selectPNG(t, s, data)

	ref := s.Reference()
	if ref == nil {
		t.Fatalf("reference image not set")
	}
	if ref.MimeType != "image/png" || ref.Size != int64(len(data)) {
		t.Fatalf("reference metadata mismatch: %+v", ref)
	}

	mime, payload, err := ParseDataURL(ref.DataURL)
	if err != nil {
		t.Fatalf("ParseDataURL error: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("mime mismatch: %s", mime)
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload not valid base64: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Fatalf("round trip did not reproduce original bytes")
	}
}

func TestSelectImageClearsError(t *testing.T) {
	s := NewShell()
	if _, err := s.Generate(context.Background(), &stubEditor{}, "req-1"); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if state := s.State(); state.Phase != PhaseFailed {
		t.Fatalf("expected failed state before selection, got %s", state.Phase)
	}

	selectPNG(t, s, []byte{0x01})
	if state := s.State(); state.Phase != PhaseIdle {
		t.Fatalf("selection should clear the error, got %s", state.Phase)
	}
}

func TestSelectImageReadFailureKeepsPriorImage(t *testing.T) {
	s := NewShell()
	selectPNG(t, s, []byte{0x01, 0x02})
	prior := s.Reference()

	err := s.SelectImage("broken.png", "image/png", 2, failingReader{})
	if err == nil {
		t.Fatalf("expected read failure")
	}
	ref := s.Reference()
	if ref == nil || ref.DataURL != prior.DataURL {
		t.Fatalf("prior image state must be untouched on read failure")
	}
	if state := s.State(); state.Phase != PhaseFailed {
		t.Fatalf("expected failed state, got %s", state.Phase)
	}
}

func TestGenerateWithoutImage(t *testing.T) {
	s := NewShell()
	editor := &stubEditor{result: "QUJD"}
	state, err := s.Generate(context.Background(), editor, "req-1")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if state.Phase != PhaseFailed || state.Message != "please upload a reference image first" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if editor.callCount() != 0 {
		t.Fatalf("editor must not be invoked without a reference image")
	}
}

func TestClearImageThenGenerate(t *testing.T) {
	s := NewShell()
	selectPNG(t, s, []byte{0x01})
	s.SetPrompt("anything at all")
	s.ClearImage()

	if s.Reference() != nil {
		t.Fatalf("reference image should be absent after clear")
	}
	editor := &stubEditor{result: "QUJD"}
	state, _ := s.Generate(context.Background(), editor, "req-1")
	if state.Phase != PhaseFailed || state.Message != "please upload a reference image first" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if editor.callCount() != 0 {
		t.Fatalf("editor must not be invoked after clear")
	}
}

func TestGenerateExtractsMimeAndPayload(t *testing.T) {
	s := NewShell()
	s.ref = &ReferenceImage{Name: "p.png", MimeType: "image/png", DataURL: "data:image/png;base64,AAAA"}
	s.SetPrompt("make it pop")

	editor := &stubEditor{result: "QUJD"}
	if _, err := s.Generate(context.Background(), editor, "req-1"); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	req := editor.request()
	if req.MimeType != "image/png" {
		t.Fatalf("mime mismatch: %s", req.MimeType)
	}
	if req.ImageData != "AAAA" {
		t.Fatalf("payload mismatch: %s", req.ImageData)
	}
	if req.Prompt != "make it pop" {
		t.Fatalf("prompt mismatch: %s", req.Prompt)
	}
}

func TestGenerateMalformedDataURL(t *testing.T) {
	s := NewShell()
	s.ref = &ReferenceImage{DataURL: "data:image/png;base64"}

	editor := &stubEditor{result: "QUJD"}
	state, _ := s.Generate(context.Background(), editor, "req-1")
	if state.Phase != PhaseFailed || state.Message != "invalid image data URL format" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if editor.callCount() != 0 {
		t.Fatalf("malformed data URL must not reach the editor")
	}
}

func TestGenerateUndeterminableMimeType(t *testing.T) {
	s := NewShell()
	s.ref = &ReferenceImage{DataURL: "data:;base64,AAAA"}

	editor := &stubEditor{result: "QUJD"}
	state, _ := s.Generate(context.Background(), editor, "req-1")
	if state.Phase != PhaseFailed || state.Message != "could not determine image MIME type" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if editor.callCount() != 0 {
		t.Fatalf("header without MIME type must not reach the editor")
	}
}

func TestGenerateRelabelsResultAsJPEG(t *testing.T) {
	s := NewShell()
	selectPNG(t, s, []byte{0x01, 0x02, 0x03})

	editor := &stubEditor{result: "V0VCUA=="}
	state, err := s.Generate(context.Background(), editor, "req-1")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if state.Phase != PhaseSucceeded {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.ImageURL != "data:image/jpeg;base64,V0VCUA==" {
		t.Fatalf("result must be relabeled as JPEG, got %s", state.ImageURL)
	}
	if state.Message != "" {
		t.Fatalf("error and result must never coexist: %+v", state)
	}
}

func TestGenerateEditorFailure(t *testing.T) {
	s := NewShell()
	selectPNG(t, s, []byte{0x01})

	editor := &stubEditor{err: errors.New("the model returned text instead of an image")}
	state, _ := s.Generate(context.Background(), editor, "req-1")
	if state.Phase != PhaseFailed {
		t.Fatalf("unexpected state: %+v", state)
	}
	if !strings.Contains(state.Message, "text instead of an image") {
		t.Fatalf("editor error not surfaced: %s", state.Message)
	}
	if state.ImageURL != "" {
		t.Fatalf("result must stay unset on failure: %+v", state)
	}
}

func TestGenerateBlankErrorBecomesUnknown(t *testing.T) {
	s := NewShell()
	selectPNG(t, s, []byte{0x01})

	editor := &stubEditor{err: errors.New("")}
	state, _ := s.Generate(context.Background(), editor, "req-1")
	if state.Phase != PhaseFailed || state.Message != "unknown error occurred" {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestGenerateLoadingCoversAttempt(t *testing.T) {
	s := NewShell()
	selectPNG(t, s, []byte{0x01})

	editor := &stubEditor{result: "QUJD", release: make(chan struct{})}
	done := make(chan RenderState, 1)
	go func() {
		state, _ := s.Generate(context.Background(), editor, "req-1")
		done <- state
	}()

	deadline := time.After(2 * time.Second)
	for s.State().Phase != PhaseLoading {
		select {
		case <-deadline:
			t.Fatalf("shell never entered the loading phase")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// A second generate while one is in flight is refused outright.
	if _, err := s.Generate(context.Background(), editor, "req-2"); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("expected ErrGenerationInFlight, got %v", err)
	}

	close(editor.release)
	state := <-done
	if state.Phase != PhaseSucceeded {
		t.Fatalf("unexpected final state: %+v", state)
	}
	if s.State().Phase != PhaseSucceeded {
		t.Fatalf("loading must end immediately after the attempt")
	}
	if editor.callCount() != 1 {
		t.Fatalf("exactly one editor call expected, got %d", editor.callCount())
	}
}

func TestNewShellDefaults(t *testing.T) {
	s := NewShell()
	if s.Prompt() == "" {
		t.Fatalf("default prompt must be non-empty")
	}
	if state := s.State(); state.Phase != PhaseIdle {
		t.Fatalf("fresh shell must be idle, got %s", state.Phase)
	}
	if s.Reference() != nil {
		t.Fatalf("fresh shell must have no reference image")
	}
}
