package image

import (
	"context"

	"server/internal/providers/genai"
)

// GeminiEditor adapts the Gemini client to the Editor interface.
type GeminiEditor struct {
	client *genai.Client
}

func NewGeminiEditor(client *genai.Client) *GeminiEditor {
	return &GeminiEditor{client: client}
}

func (g *GeminiEditor) EditWithReference(ctx context.Context, req EditRequest) (string, error) {
	return g.client.EditImageWithReference(ctx, genai.EditRequest{
		Prompt:    req.Prompt,
		ImageData: req.ImageData,
		MimeType:  req.MimeType,
		RequestID: req.RequestID,
	})
}

var _ Editor = (*GeminiEditor)(nil)
