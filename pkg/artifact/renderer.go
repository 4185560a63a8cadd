package artifact

import (
	"context"
	"errors"
)

// ErrRenderFailed wraps renderer failures so callers can branch on them
// without knowing the renderer implementation.
var ErrRenderFailed = errors.New("artifact render failed")

// RenderResult is the output of a successful render.
type RenderResult struct {
	Bytes     []byte
	PageCount int
}

// Renderer turns a structured CV document into rendered bytes. The
// renderer is an external collaborator; the engine only depends on this
// interface.
type Renderer interface {
	Render(ctx context.Context, document map[string]interface{}) (RenderResult, error)
}
