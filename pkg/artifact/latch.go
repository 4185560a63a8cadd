// Package artifact wraps artifact generation behind an idempotency
// latch: for a fixed content fingerprint, at most one render ever
// happens for a session no matter how often generation is requested.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/cvpilot/cvpilot/pkg/sessionstore"
)

// Latch gates rendering on the session's artifact refs. A fingerprint
// already present in the session returns its existing ref without
// touching the renderer.
type Latch struct {
	store         *sessionstore.Store
	renderer      Renderer
	artifactDir   string
	renderTimeout time.Duration
	byteCache     *cache.Cache
	logger        zerolog.Logger
}

// Config holds latch configuration.
type Config struct {
	Store         *sessionstore.Store
	Renderer      Renderer
	ArtifactDir   string
	RenderTimeout time.Duration
	CacheTTL      time.Duration
	Logger        zerolog.Logger
}

// NewLatch creates a Latch and ensures the artifact directory exists.
func NewLatch(cfg Config) (*Latch, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if cfg.ArtifactDir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(cfg.ArtifactDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 60 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}

	return &Latch{
		store:         cfg.Store,
		renderer:      cfg.Renderer,
		artifactDir:   cfg.ArtifactDir,
		renderTimeout: cfg.RenderTimeout,
		byteCache:     cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		logger:        cfg.Logger,
	}, nil
}

// Result reports what GenerateOrReuse did.
type Result struct {
	Ref     sessionstore.ArtifactRef
	Reused  bool
	Session *sessionstore.Document
}

// GenerateOrReuse returns the artifact for the session's current
// content. If the fingerprint already has a ref, that ref is returned
// unchanged and the renderer is not called. Otherwise it renders under a
// timeout, stores the bytes, and appends the new ref to the session.
func (l *Latch) GenerateOrReuse(ctx context.Context, doc *sessionstore.Document) (Result, error) {
	fp, err := Fingerprint(doc.Document)
	if err != nil {
		return Result{}, err
	}

	if ref, ok := doc.ArtifactRefs[fp]; ok {
		l.logger.Debug().
			Str("session_id", doc.ID).
			Str("fingerprint", fp).
			Str("artifact_id", ref.ArtifactID).
			Msg("Artifact reused")
		return Result{Ref: ref, Reused: true, Session: doc}, nil
	}

	renderCtx, cancel := context.WithTimeout(ctx, l.renderTimeout)
	defer cancel()

	rendered, err := l.renderer.Render(renderCtx, doc.Document)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	artifactID, err := gonanoid.New()
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate artifact id: %w", err)
	}

	if err := os.WriteFile(l.artifactPath(artifactID), rendered.Bytes, 0600); err != nil {
		return Result{}, fmt.Errorf("failed to store artifact bytes: %w", err)
	}

	contentHash := sha256.Sum256(rendered.Bytes)
	ref := sessionstore.ArtifactRef{
		ArtifactID:  artifactID,
		CreatedAt:   time.Now().UTC(),
		ContentHash: hex.EncodeToString(contentHash[:]),
		SizeBytes:   int64(len(rendered.Bytes)),
		PageCount:   rendered.PageCount,
	}

	updated, err := l.store.PutArtifactRef(ctx, doc.ID, doc.Version, fp, ref)
	if err != nil {
		// The ref write lost; remove the orphaned bytes. A retried turn
		// re-renders from the reloaded session.
		os.Remove(l.artifactPath(artifactID))
		return Result{}, err
	}

	l.byteCache.Set(artifactID, rendered.Bytes, cache.DefaultExpiration)

	l.logger.Info().
		Str("session_id", doc.ID).
		Str("fingerprint", fp).
		Str("artifact_id", artifactID).
		Int64("size_bytes", ref.SizeBytes).
		Msg("Artifact generated")

	return Result{Ref: ref, Reused: false, Session: updated}, nil
}

// Fetch returns the rendered bytes for an artifact id, serving from the
// in-memory cache when possible.
func (l *Latch) Fetch(artifactID string) ([]byte, error) {
	if cached, ok := l.byteCache.Get(artifactID); ok {
		return cached.([]byte), nil
	}
	data, err := os.ReadFile(l.artifactPath(artifactID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s not found", artifactID)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", artifactID, err)
	}
	l.byteCache.Set(artifactID, data, cache.DefaultExpiration)
	return data, nil
}

// Remove deletes stored bytes for the given artifact ids, used by the
// expiry sweep after their sessions are gone.
func (l *Latch) Remove(artifactIDs []string) {
	for _, id := range artifactIDs {
		l.byteCache.Delete(id)
		if err := os.Remove(l.artifactPath(id)); err != nil && !os.IsNotExist(err) {
			l.logger.Warn().Str("artifact_id", id).Err(err).Msg("Failed to remove artifact bytes")
		}
	}
}

func (l *Latch) artifactPath(artifactID string) string {
	return filepath.Join(l.artifactDir, artifactID+".pdf")
}
