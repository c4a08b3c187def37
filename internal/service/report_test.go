package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/preset"
	"github.com/sakif/github-report/internal/stream"
)

type pipelineFixture struct {
	pipeline *ReportPipeline
	engine   *fakeEngine
	sources  map[string]*fakeSource
	mr       *miniredis.Miniredis
}

func newPipelineFixture(t *testing.T, fragments ...string) *pipelineFixture {
	t.Helper()
	store, mr := newTestStore(t)
	presets, err := preset.Load("")
	require.NoError(t, err)

	fx := &pipelineFixture{
		engine:  &fakeEngine{fragments: fragments},
		sources: map[string]*fakeSource{},
		mr:      mr,
	}
	for _, login := range []string{"alice", "bob"} {
		fx.sources[login] = newFakeSource(login)
	}

	fetcher := NewUserDataFetcher(store, time.Hour, testLoc, discardLogger())
	source := func(_ context.Context, id model.Identity) ProfileSource {
		return fx.sources[id.SubjectID]
	}
	fx.pipeline = NewReportPipeline(
		ReportConfig{ReportTTL: 30 * 24 * time.Hour, PendingTTL: 10 * time.Minute},
		store, presets, fetcher, fx.engine, source, discardLogger(),
	)
	return fx
}

func (fx *pipelineFixture) generate(ctx context.Context, login, presetKey string, force bool) []stream.Event {
	var c stream.Collector
	fx.pipeline.Generate(ctx, ReportRequest{Identity: identity(login), Preset: presetKey, ForceRegen: force}, &c)
	return c.Events()
}

func (fx *pipelineFixture) cachedReport(t *testing.T, key string) (model.Report, bool) {
	t.Helper()
	r, ok := fx.pipeline.reports.Get(context.Background(), key)
	return r, ok
}

func chunkText(events []stream.Event) string {
	var s string
	for _, e := range events {
		if e.Type == stream.TypeChunk {
			s += e.Content
		}
	}
	return s
}

func countType(events []stream.Event, typ stream.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// =========================================================================
// HAPPY PATH AND CACHE
// =========================================================================

func TestGenerate_FreshReport(t *testing.T) {
	fx := newPipelineFixture(t, "NAME\n", "", "  alice - ", "ships code")
	events := fx.generate(context.Background(), "alice", "man_page", false)

	want := "NAME\n  alice - ships code"
	require.NotEmpty(t, events)
	assert.Equal(t, stream.TypeStatus, events[0].Type)
	assert.Equal(t, msgChecking, events[0].Message)
	assert.Equal(t, 3, countType(events, stream.TypeChunk), "empty fragments are not forwarded")
	assert.Equal(t, want, chunkText(events))

	last := events[len(events)-1]
	assert.Equal(t, stream.Complete(want), last)
	assert.Equal(t, 1, countType(events, stream.TypeComplete))

	report, ok := fx.cachedReport(t, "man_page:alice")
	require.True(t, ok)
	assert.Equal(t, want, report.Text)
	assert.Equal(t, 30*24*time.Hour, fx.mr.TTL("report:man_page:alice"))
	assert.False(t, fx.mr.Exists("pending:man_page:alice"), "guard must be released")

	assert.Equal(t, 1, fx.engine.callCount())
	assert.Equal(t, 1, fx.engine.closeCount())
	require.Len(t, fx.engine.prompts, 1)
	assert.Contains(t, fx.engine.prompts[0], "alice")
	assert.Contains(t, fx.engine.prompts[0], "<START_COMMITS>")
	assert.NotContains(t, fx.engine.prompts[0], preset.PlaceholderCommitData)
}

func TestGenerate_StatusSequence(t *testing.T) {
	fx := newPipelineFixture(t, "x")
	events := fx.generate(context.Background(), "alice", "man_page", false)

	var statuses []string
	for _, e := range events {
		if e.Type == stream.TypeStatus {
			statuses = append(statuses, e.Message)
		}
	}
	assert.Equal(t, []string{msgChecking, msgFetching, msgThinking, msgSaving}, statuses)
}

func TestGenerate_SecondCallServedFromCache(t *testing.T) {
	fx := newPipelineFixture(t, "the report")
	ctx := context.Background()

	fx.generate(ctx, "alice", "man_page", false)
	events := fx.generate(ctx, "alice", "man_page", false)

	assert.Equal(t, []stream.Event{stream.Complete("the report")}, events)
	assert.Equal(t, 1, fx.engine.callCount())
}

func TestGenerate_CachedReportSkipsEverything(t *testing.T) {
	fx := newPipelineFixture(t, "fresh")
	ctx := context.Background()
	fx.pipeline.reports.Set(ctx, "pr_summary:bob", model.Report{Text: "cached text"})

	events := fx.generate(ctx, "bob", "pr_summary", false)

	assert.Equal(t, []stream.Event{stream.Complete("cached text")}, events)
	assert.Zero(t, fx.engine.callCount())
	v, a, r := fx.sources["bob"].calls()
	assert.Zero(t, v+a+r, "cache hit must not touch GitHub")
}

func TestGenerate_ForceRegenReplacesCachedReport(t *testing.T) {
	fx := newPipelineFixture(t, "new text")
	ctx := context.Background()
	fx.pipeline.reports.Set(ctx, "man_page:alice", model.Report{Text: "old text"})

	events := fx.generate(ctx, "alice", "man_page", true)

	assert.Equal(t, 1, fx.engine.callCount())
	assert.Equal(t, stream.Status(msgForced), events[1])
	assert.Equal(t, stream.Complete("new text"), events[len(events)-1])

	report, ok := fx.cachedReport(t, "man_page:alice")
	require.True(t, ok)
	assert.Equal(t, "new text", report.Text)
}

func TestGenerate_ForceRegenAlwaysCallsEngine(t *testing.T) {
	fx := newPipelineFixture(t, "text")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fx.generate(ctx, "alice", "man_page", true)
	}
	assert.Equal(t, 3, fx.engine.callCount())
}

func TestGenerate_EmptyOutput(t *testing.T) {
	fx := newPipelineFixture(t, "", "")
	events := fx.generate(context.Background(), "alice", "man_page", false)

	assert.Equal(t, stream.Complete(""), events[len(events)-1])
	assert.Zero(t, countType(events, stream.TypeChunk))
	assert.NotContains(t, events, stream.Status(msgSaving))
	assert.False(t, fx.mr.Exists("report:man_page:alice"))
	assert.False(t, fx.mr.Exists("pending:man_page:alice"))
}

func TestGenerate_KeysArePerPresetAndUser(t *testing.T) {
	fx := newPipelineFixture(t, "text")
	ctx := context.Background()

	fx.generate(ctx, "alice", "man_page", false)
	fx.generate(ctx, "alice", "pr_summary", false)
	fx.generate(ctx, "bob", "man_page", false)

	assert.Equal(t, 3, fx.engine.callCount())
	assert.True(t, fx.mr.Exists("report:man_page:alice"))
	assert.True(t, fx.mr.Exists("report:pr_summary:alice"))
	assert.True(t, fx.mr.Exists("report:man_page:bob"))
}

// =========================================================================
// PENDING GUARD
// =========================================================================

func TestGenerate_ConcurrentRequestRejected(t *testing.T) {
	fx := newPipelineFixture(t, "part one ", "part two")
	fx.engine.gate = make(chan struct{})
	fx.engine.streaming = make(chan struct{})
	ctx := context.Background()

	var first []stream.Event
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = fx.generate(ctx, "alice", "man_page", false)
	}()

	select {
	case <-fx.engine.streaming:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never started streaming")
	}

	second := fx.generate(ctx, "alice", "man_page", false)
	last := second[len(second)-1]
	assert.Equal(t, stream.TypeError, last.Type)
	assert.Equal(t, stream.CodeInProgress, last.Code)
	assert.Contains(t, last.Message, "already being generated")
	assert.Zero(t, countType(second, stream.TypeChunk))

	close(fx.engine.gate)
	wg.Wait()

	assert.Equal(t, 1, fx.engine.callCount())
	assert.Equal(t, stream.Complete("part one part two"), first[len(first)-1])
	assert.False(t, fx.mr.Exists("pending:man_page:alice"))
}

func TestGenerate_ForeignMarkerRejects(t *testing.T) {
	fx := newPipelineFixture(t, "text")
	require.NoError(t, fx.mr.Set("pending:man_page:alice", "other-instance"))

	events := fx.generate(context.Background(), "alice", "man_page", false)

	last := events[len(events)-1]
	assert.Equal(t, stream.CodeInProgress, last.Code)
	assert.Zero(t, fx.engine.callCount())
	assert.True(t, fx.mr.Exists("pending:man_page:alice"), "another holder's marker is left alone")
}

func TestGenerate_MarkerExpiresOnItsOwn(t *testing.T) {
	fx := newPipelineFixture(t, "text")
	require.NoError(t, fx.mr.Set("pending:man_page:alice", "crashed-instance"))
	fx.mr.SetTTL("pending:man_page:alice", 10*time.Minute)

	fx.mr.FastForward(11 * time.Minute)
	events := fx.generate(context.Background(), "alice", "man_page", false)

	assert.Equal(t, stream.Complete("text"), events[len(events)-1])
}

// =========================================================================
// FAILURES
// =========================================================================

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fx *pipelineFixture)
	}{
		{"activity query fails", func(fx *pipelineFixture) { fx.sources["alice"].actErr = errBoom }},
		{"viewer fails", func(fx *pipelineFixture) { fx.sources["alice"].viewerErr = errBoom }},
		{"engine unreachable", func(fx *pipelineFixture) { fx.engine.startErr = errBoom }},
		{"stream breaks", func(fx *pipelineFixture) { fx.engine.streamErr = errBoom }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newPipelineFixture(t, "partial")
			tt.setup(fx)

			events := fx.generate(context.Background(), "alice", "man_page", false)

			last := events[len(events)-1]
			assert.Equal(t, stream.Error(msgGeneric, stream.CodeFailed), last)
			assert.Equal(t, 1, countType(events, stream.TypeError))
			assert.Zero(t, countType(events, stream.TypeComplete))
			assert.False(t, fx.mr.Exists("pending:man_page:alice"), "guard must be released")
			assert.False(t, fx.mr.Exists("report:man_page:alice"))
		})
	}
}

func TestGenerate_UnknownPresetIsConfigError(t *testing.T) {
	fx := newPipelineFixture(t, "text")

	events := fx.generate(context.Background(), "alice", "does_not_exist", false)

	last := events[len(events)-1]
	assert.Equal(t, stream.TypeError, last.Type)
	assert.Equal(t, stream.CodeConfig, last.Code)
	assert.Equal(t, "Preset 'does_not_exist' not found.", last.Message)
	assert.Zero(t, fx.engine.callCount())
	assert.False(t, fx.mr.Exists("pending:does_not_exist:alice"))
}

func TestGenerate_StoreDownStillGenerates(t *testing.T) {
	fx := newPipelineFixture(t, "text")
	fx.mr.Close()

	events := fx.generate(context.Background(), "alice", "man_page", false)

	assert.Equal(t, stream.Complete("text"), events[len(events)-1])
	assert.Equal(t, 1, fx.engine.callCount())
}

// =========================================================================
// CANCELLATION
// =========================================================================

func TestGenerate_ContextCancelledMidStream(t *testing.T) {
	fx := newPipelineFixture(t, "part one ", "part two")
	fx.engine.gate = make(chan struct{})
	fx.engine.streaming = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan []stream.Event)
	go func() { done <- fx.generate(ctx, "alice", "man_page", false) }()

	<-fx.engine.streaming
	cancel()

	var events []stream.Event
	select {
	case events = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}

	assert.Zero(t, countType(events, stream.TypeComplete))
	assert.Zero(t, countType(events, stream.TypeError), "no error is sent to a departed client")
	assert.False(t, fx.mr.Exists("pending:man_page:alice"), "guard must be released on cancel")
	assert.False(t, fx.mr.Exists("report:man_page:alice"))
	assert.Equal(t, 1, fx.engine.closeCount())
}

func TestGenerate_ConsumerGoneMidStream(t *testing.T) {
	fx := newPipelineFixture(t, "a", "b", "c")
	sess := stream.NewSession()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sess.Close()
		fx.pipeline.Generate(ctx, ReportRequest{Identity: identity("alice"), Preset: "man_page"}, sess)
	}()

	// Read up to the first chunk, then walk away.
	for e := range sess.Events() {
		if e.Type == stream.TypeChunk {
			break
		}
	}
	sess.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after the consumer left")
	}
	assert.False(t, fx.mr.Exists("pending:man_page:alice"))
}
