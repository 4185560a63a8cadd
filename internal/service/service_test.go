package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvpilot/cvpilot/internal/config"
	"github.com/cvpilot/cvpilot/pkg/agent"
	"github.com/cvpilot/cvpilot/pkg/artifact"
	"github.com/cvpilot/cvpilot/pkg/fsm"
	"github.com/cvpilot/cvpilot/pkg/sessionstore"
)

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, _ map[string]interface{}) (artifact.RenderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return artifact.RenderResult{Bytes: []byte("%PDF-1.7 fake"), PageCount: 1}, nil
}

type fakeProvider struct{}

func (fakeProvider) Call(_ context.Context, _ agent.Request) (*agent.Response, error) {
	return &agent.Response{Content: "ok"}, nil
}
func (fakeProvider) Name() string { return "fake" }

type fakeFactory struct{}

func (fakeFactory) NewProvider(agent.AuthProfile) (agent.Provider, error) {
	return fakeProvider{}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Artifact.Dir = t.TempDir()
	cfg.JobFetch.Enabled = false
	cfg.AI.Profiles = []config.AIProfile{
		{ID: "test", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 1},
	}
	return cfg
}

func newService(t *testing.T) (*Service, *fakeRenderer) {
	t.Helper()
	renderer := &fakeRenderer{}
	svc, err := New(testConfig(t), Deps{Renderer: renderer, Factory: fakeFactory{}}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, renderer
}

func readyDocument() map[string]interface{} {
	return map[string]interface{}{
		"contact": map[string]interface{}{
			"full_name": "Jane Doe",
			"email":     "jane@example.com",
			"phone":     "+1 415 555 0199",
		},
		"experience": []interface{}{
			map[string]interface{}{"title": "Engineer at Initech", "start_date": "2020", "end_date": "present"},
		},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Profiles = nil
	_, err := New(cfg, Deps{Factory: fakeFactory{}}, zerolog.Nop())
	assert.Error(t, err)
}

func TestGenerateBlockedWhenNotReady(t *testing.T) {
	svc, renderer := newService(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, map[string]interface{}{
		"contact": map[string]interface{}{"full_name": "Jane Doe"},
	})
	require.NoError(t, err)

	result, err := svc.Generate(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, result.Blocked)
	assert.NotEmpty(t, result.BlockedReason)
	assert.Empty(t, result.ArtifactID)
	assert.Equal(t, 0, renderer.calls)

	// No ref created, stage unchanged.
	stored, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ArtifactRefs)
	assert.Equal(t, fsm.StageIngest, stored.Stage)
}

func TestGenerateIsIdempotent(t *testing.T) {
	svc, renderer := newService(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, readyDocument())
	require.NoError(t, err)

	first, err := svc.Generate(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, first.Blocked)
	assert.False(t, first.Reused)

	for i := 0; i < 4; i++ {
		repeat, err := svc.Generate(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ArtifactID, repeat.ArtifactID)
		assert.True(t, repeat.Reused)
	}
	assert.Equal(t, 1, renderer.calls)

	// A content edit yields a new artifact.
	stored, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	_, err = svc.PatchSession(ctx, sess.ID, stored.Version, []sessionstore.Edit{
		{Path: "summary", Action: "set-new", Value: "Updated."},
	})
	require.NoError(t, err)

	second, err := svc.Generate(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ArtifactID, second.ArtifactID)
	assert.Equal(t, 2, renderer.calls)
}

func TestFetchArtifact(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, readyDocument())
	require.NoError(t, err)
	result, err := svc.Generate(ctx, sess.ID)
	require.NoError(t, err)

	data, err := svc.FetchArtifact(result.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 fake"), data)

	_, err = svc.FetchArtifact("missing")
	assert.Error(t, err)
}

func TestCreateSessionFromText(t *testing.T) {
	svc, _ := newService(t)

	sess, err := svc.CreateSessionFromText(context.Background(),
		"Jane Doe\njane@example.com\n+1 415 555 0199\n\nExperience\nEngineer at Initech\n2020 - present\n")
	require.NoError(t, err)

	contact, ok := sess.Document["contact"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", contact["full_name"])
	assert.Equal(t, fsm.StageIngest, sess.Stage)
}

func TestPatchSessionStaleVersion(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, readyDocument())
	require.NoError(t, err)

	_, err = svc.PatchSession(ctx, sess.ID, sess.Version, []sessionstore.Edit{
		{Path: "summary", Action: "set-new", Value: "v1"},
	})
	require.NoError(t, err)

	_, err = svc.PatchSession(ctx, sess.ID, sess.Version, []sessionstore.Edit{
		{Path: "summary", Action: "set", Value: "v2"},
	})
	assert.True(t, sessionstore.IsConflict(err))
}

func TestHandleTurn(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, readyDocument())
	require.NoError(t, err)

	resp, err := svc.HandleTurn(ctx, sess.ID, "here is my CV")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message)
	assert.Equal(t, fsm.StagePrepare, resp.Stage)
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	expired, err := svc.store.Create(ctx, readyDocument(), time.Millisecond)
	require.NoError(t, err)
	alive, err := svc.CreateSession(ctx, readyDocument())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	svc.sweep()

	_, err = svc.store.Load(ctx, expired.ID)
	assert.Error(t, err)

	_, err = svc.GetSession(ctx, alive.ID)
	assert.NoError(t, err)
}

func TestStartRejectsBadSweepSpec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.SweepSpec = "not a schedule"
	svc, err := New(cfg, Deps{Renderer: &fakeRenderer{}, Factory: fakeFactory{}}, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	assert.Error(t, svc.Start())
}
