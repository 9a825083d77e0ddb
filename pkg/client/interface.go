package client

import "context"

// VisionClient asks a multimodal model a question about one image. imgB64 is
// the base64 encoded image without a data URL prefix; the reply is the
// model's raw text.
type VisionClient interface {
	Ask(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
