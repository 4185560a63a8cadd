// Package service wires the engine together behind one facade: session
// lifecycle, document edits, artifact generation, the turn loop, and
// the scheduled expiry sweep.
package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cvpilot/cvpilot/internal/config"
	"github.com/cvpilot/cvpilot/pkg/agent"
	"github.com/cvpilot/cvpilot/pkg/artifact"
	"github.com/cvpilot/cvpilot/pkg/extract"
	"github.com/cvpilot/cvpilot/pkg/fsm"
	"github.com/cvpilot/cvpilot/pkg/jobfetch"
	"github.com/cvpilot/cvpilot/pkg/orchestrator"
	"github.com/cvpilot/cvpilot/pkg/sessionstore"
	"github.com/cvpilot/cvpilot/pkg/toolexecutor"
	"github.com/cvpilot/cvpilot/pkg/validate"
)

// Service is the engine facade.
type Service struct {
	cfg       *config.Config
	store     *sessionstore.Store
	latch     *artifact.Latch
	orch      *orchestrator.Orchestrator
	validator *validate.Validator
	extractor extract.Extractor
	fetcher   jobfetch.Fetcher
	patcher   *sessionstore.FieldPatcher
	scheduler *cron.Cron
	ttl       time.Duration
	logger    zerolog.Logger
}

// Deps lets callers swap the external collaborators. Zero values use
// the production implementations.
type Deps struct {
	Renderer  artifact.Renderer
	Fetcher   jobfetch.Fetcher
	Factory   agent.ProviderCreator
	Extractor extract.Extractor
}

// New builds the full engine from configuration.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := sessionstore.New(sessionstore.Config{
		DBPath:           filepath.Join(cfg.DataDir, "sessions.db"),
		MaxPropertyBytes: cfg.Session.MaxPropertyBytes,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	renderer := deps.Renderer
	if renderer == nil {
		renderer = artifact.NewChromeRenderer()
	}

	latch, err := artifact.NewLatch(artifact.Config{
		Store:         store,
		Renderer:      renderer,
		ArtifactDir:   cfg.Artifact.Dir,
		RenderTimeout: time.Duration(cfg.Artifact.RenderTimeoutSeconds) * time.Second,
		CacheTTL:      time.Duration(cfg.Artifact.CacheTTLMinutes) * time.Minute,
		Logger:        logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	fetcher := deps.Fetcher
	if fetcher == nil && cfg.JobFetch.Enabled {
		fetcher = jobfetch.New(jobfetch.Config{
			Timeout:      time.Duration(cfg.JobFetch.TimeoutSeconds) * time.Second,
			MaxTextBytes: cfg.JobFetch.MaxTextBytes,
			Logger:       logger,
		})
	}

	extractor := deps.Extractor
	if extractor == nil {
		extractor = extract.NewPlainText(extract.Config{
			MaxFieldBytes: cfg.Session.MaxPropertyBytes,
			Logger:        logger,
		})
	}

	profiles := make([]agent.AuthProfile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}
	caller, err := agent.NewCaller(agent.CallerConfig{
		Profiles:    profiles,
		Factory:     deps.Factory,
		CallTimeout: time.Duration(cfg.Orchestrator.AgentTimeoutSeconds) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	policy := toolexecutor.DefaultStagePolicy()
	for name, budget := range cfg.Orchestrator.StageBudgets {
		stage, err := fsm.ParseStage(name)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("invalid stage in budget config: %w", err)
		}
		policy.SetBudget(stage, budget)
	}

	validator := validate.New(nil)
	orch, err := orchestrator.New(orchestrator.Config{
		Store:        store,
		Machine:      fsm.New(cfg.Orchestrator.ReviewTurnLimit),
		Validator:    validator,
		Policy:       policy,
		Caller:       caller,
		Latch:        latch,
		Fetcher:      fetcher,
		Model:        cfg.Orchestrator.Model,
		Temperature:  cfg.Orchestrator.Temperature,
		MaxTokens:    cfg.Orchestrator.MaxTokens,
		PackMaxBytes: cfg.Orchestrator.PackMaxBytes,
		ToolTimeout:  time.Duration(cfg.Orchestrator.ToolTimeoutSeconds) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		store:     store,
		latch:     latch,
		orch:      orch,
		validator: validator,
		extractor: extractor,
		fetcher:   fetcher,
		patcher:   sessionstore.NewFieldPatcher(),
		scheduler: cron.New(),
		ttl:       time.Duration(cfg.Session.TTLHours) * time.Hour,
		logger:    logger,
	}, nil
}

// Start schedules the expiry sweep.
func (s *Service) Start() error {
	_, err := s.scheduler.AddFunc(s.cfg.Session.SweepSpec, s.sweep)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Session.SweepSpec, err)
	}
	s.scheduler.Start()
	s.logger.Info().Str("schedule", s.cfg.Session.SweepSpec).Msg("Expiry sweep scheduled")
	return nil
}

func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	count, artifactIDs, err := s.store.ExpireSweep(ctx, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Expiry sweep failed")
		return
	}
	if count > 0 {
		s.latch.Remove(artifactIDs)
		s.logger.Info().
			Int("sessions", count).
			Int("artifacts", len(artifactIDs)).
			Msg("Expired sessions swept")
	}
}

// CreateSession creates a session from an already-structured document.
func (s *Service) CreateSession(ctx context.Context, initial map[string]interface{}) (*sessionstore.Document, error) {
	return s.store.Create(ctx, initial, s.ttl)
}

// CreateSessionFromText extracts a structured document from raw CV text
// and creates a session from it.
func (s *Service) CreateSessionFromText(ctx context.Context, raw string) (*sessionstore.Document, error) {
	document, err := s.extractor.Extract(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	return s.store.Create(ctx, document, s.ttl)
}

// GetSession loads a session.
func (s *Service) GetSession(ctx context.Context, id string) (*sessionstore.Document, error) {
	return s.store.Load(ctx, id)
}

// PatchSession applies an atomic batch of edits at the given version.
func (s *Service) PatchSession(ctx context.Context, id string, version int64, edits []sessionstore.Edit) (*sessionstore.Document, error) {
	ops, err := s.patcher.Translate(edits)
	if err != nil {
		return nil, err
	}
	return s.store.Patch(ctx, id, version, ops)
}

// Validate runs the validator against the session's document.
func (s *Service) Validate(ctx context.Context, id string) (validate.Result, error) {
	doc, err := s.store.Load(ctx, id)
	if err != nil {
		return validate.Result{}, err
	}
	return s.validator.Validate(doc.Document), nil
}

// GenerateResult is the outcome of a direct generation request.
type GenerateResult struct {
	Blocked       bool             `json:"blocked"`
	BlockedReason []validate.Error `json:"blocked_reason,omitempty"`
	ArtifactID    string           `json:"artifact_id,omitempty"`
	Reused        bool             `json:"reused,omitempty"`
}

// Generate renders the session's current content, reusing an existing
// artifact when the content is unchanged. A document that fails
// readiness blocks without creating a ref or touching the stage.
func (s *Service) Generate(ctx context.Context, id string) (*GenerateResult, error) {
	doc, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	result := s.validator.Validate(doc.Document)
	if !result.Ready {
		s.logger.Info().
			Str("session_id", id).
			Int("errors", len(result.Errors)).
			Msg("Generation blocked by validation")
		return &GenerateResult{Blocked: true, BlockedReason: result.Errors}, nil
	}

	genResult, err := s.latch.GenerateOrReuse(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		ArtifactID: genResult.Ref.ArtifactID,
		Reused:     genResult.Reused,
	}, nil
}

// FetchArtifact returns the rendered bytes for an artifact id.
func (s *Service) FetchArtifact(artifactID string) ([]byte, error) {
	return s.latch.Fetch(artifactID)
}

// HandleTurn processes one conversational turn.
func (s *Service) HandleTurn(ctx context.Context, sessionID, userMessage string) (*orchestrator.TurnResponse, error) {
	return s.orch.HandleTurn(ctx, sessionID, userMessage)
}

// Close stops the scheduler and releases resources.
func (s *Service) Close() error {
	s.scheduler.Stop()
	if s.fetcher != nil {
		if err := s.fetcher.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close job fetcher")
		}
	}
	return s.store.Close()
}
