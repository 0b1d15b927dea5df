package image

import "context"

// EditRequest describes one reference-conditioned edit. ImageData is a raw
// base64 payload (no data-URL header), MimeType its declared content type.
type EditRequest struct {
	Prompt    string
	ImageData string
	MimeType  string
	RequestID string
}

// Editor produces an edited image, returned as a base64 payload, from a
// prompt plus a reference image. The single-capability interface keeps UI
// logic testable against a stub.
type Editor interface {
	EditWithReference(ctx context.Context, req EditRequest) (string, error)
}
