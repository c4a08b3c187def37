package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/cache"
	"github.com/sakif/github-report/internal/llm"
	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/preset"
	"github.com/sakif/github-report/internal/repository"
	"github.com/sakif/github-report/internal/stream"
)

// Status messages sent while a report is generated.
const (
	msgChecking   = "Checking for cached report..."
	msgForced     = "Forced regeneration, cleared cache."
	msgFetching   = "Fetching GitHub data..."
	msgThinking   = "Thinking..."
	msgSaving     = "Saving..."
	msgInProgress = "A report is already being generated, please wait for it to finish and try again."
)

// PresetLookup resolves preset keys. *preset.Registry implements it.
type PresetLookup interface {
	Lookup(key string) (model.Preset, bool)
}

// SourceFunc returns the GitHub API client acting for id.
type SourceFunc func(ctx context.Context, id model.Identity) ProfileSource

// ReportConfig holds the report pipeline's expiry settings.
type ReportConfig struct {
	ReportTTL  time.Duration
	PendingTTL time.Duration
}

// ReportRequest asks for the report of one preset for the calling user.
type ReportRequest struct {
	Identity   model.Identity
	Preset     string
	ForceRegen bool
}

// Key returns the report key the request works on.
func (r ReportRequest) Key() model.ReportKey {
	return model.NewReportKey(r.Preset, r.Identity.SubjectID)
}

// ReportPipeline produces reports: from the cache when one exists, otherwise
// by fetching the user's activity and streaming a completion from the
// engine. At most one request per report key generates at a time across all
// instances sharing the store.
type ReportPipeline struct {
	presets PresetLookup
	reports *cache.Cache[model.Report]
	pending *cache.Guard
	fetcher *UserDataFetcher
	engine  llm.Engine
	source  SourceFunc
	logger  *slog.Logger
	now     func() time.Time
}

func NewReportPipeline(
	cfg ReportConfig,
	store repository.KVStore,
	presets PresetLookup,
	fetcher *UserDataFetcher,
	engine llm.Engine,
	source SourceFunc,
	logger *slog.Logger,
) *ReportPipeline {
	return &ReportPipeline{
		presets: presets,
		reports: cache.New[model.Report](store, "report", cfg.ReportTTL, logger),
		pending: cache.NewGuard(store, "pending", cfg.PendingTTL, logger),
		fetcher: fetcher,
		engine:  engine,
		source:  source,
		logger:  logger,
		now:     time.Now,
	}
}

// Generate runs one request and reports its progress to sink. It always
// ends with exactly one complete or generate_error event, unless the sink
// goes away first, in which case it stops quietly.
//
// STATE MACHINE:
//
//	cached (not forced) ──────────────────────────────► complete
//	miss ─► status "Checking..." ─► [forced: drop cache, status]
//	      ─► marker held? ───────────────────────────► generate_error in_progress
//	      ─► SETNX lost? ────────────────────────────► generate_error in_progress
//	      ─► run: fetch data, status..., chunk..., persist
//	      ─► release marker ─► complete | generate_error config | generate_error failed
//
// WHY RELEASE BEFORE THE TERMINAL EVENT?
// A client that sees "complete" may immediately ask again with force_regen.
// If the marker were still set at that moment, the second request would be
// rejected as in progress even though nothing is running. The deferred
// Release covers panics and early returns; the explicit one fixes the order.
//
// CANCELLATION:
// When ctx is cancelled nobody is left to read an error, so nothing is
// emitted. The marker is still released because Release ignores
// cancellation of ctx.
func (p *ReportPipeline) Generate(ctx context.Context, req ReportRequest, sink stream.Sink) {
	key := req.Key().String()
	logger := p.logger.With(slog.String("report", key))

	if !req.ForceRegen {
		if report, ok := p.reports.Get(ctx, key); ok {
			logger.Debug("serving cached report")
			emit(ctx, sink, stream.Complete(report.Text))
			return
		}
	}

	if !emit(ctx, sink, stream.Status(msgChecking)) {
		return
	}

	if req.ForceRegen {
		p.reports.Delete(ctx, key)
		if !emit(ctx, sink, stream.Status(msgForced)) {
			return
		}
	}

	if p.pending.IsHeld(ctx, key) {
		emit(ctx, sink, stream.Error(msgInProgress, stream.CodeInProgress))
		return
	}

	lease, ok := p.pending.TryAcquire(ctx, key)
	if !ok {
		emit(ctx, sink, stream.Error(msgInProgress, stream.CodeInProgress))
		return
	}
	defer lease.Release(ctx)

	text, err := p.run(ctx, req, sink, logger)
	lease.Release(ctx)

	if err != nil {
		if cancelled(ctx, err) {
			logger.Info("report generation cancelled")
			return
		}

		logger.Error("report generation failed", slog.String("error", err.Error()))
		if errors.Is(err, apperror.ErrConfig) {
			var appErr *apperror.AppError
			errors.As(err, &appErr)
			emit(ctx, sink, stream.Error(appErr.Message, stream.CodeConfig))
			return
		}
		emit(ctx, sink, stream.Error(msgGeneric, stream.CodeFailed))
		return
	}

	logger.Info("report generated", slog.Int("length", len(text)))
	emit(ctx, sink, stream.Complete(text))
}

// run does the guarded part of Generate and returns the generated text.
func (p *ReportPipeline) run(ctx context.Context, req ReportRequest, sink stream.Sink, logger *slog.Logger) (string, error) {
	key := req.Key().String()

	tmpl, ok := p.presets.Lookup(req.Preset)
	if !ok || strings.TrimSpace(tmpl.Prompt) == "" {
		return "", apperror.Misconfigured(fmt.Sprintf("Preset '%s' not found.", req.Preset))
	}

	if err := sink.Emit(ctx, stream.Status(msgFetching)); err != nil {
		return "", err
	}

	data, err := p.fetcher.Fetch(ctx, p.source(ctx, req.Identity))
	if err != nil {
		return "", err
	}
	if data.Username == "" {
		return "", apperror.Upstream(msgGeneric, errors.New("user data has no username"))
	}

	prompt := preset.Render(tmpl, FormatUserData(data), data.Username)

	if err := sink.Emit(ctx, stream.Status(msgThinking)); err != nil {
		return "", err
	}

	fragments, err := p.engine.Stream(ctx, prompt)
	if err != nil {
		return "", apperror.Upstream(msgGeneric, err)
	}
	defer fragments.Close()

	var text strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		fragment, err := fragments.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", apperror.Upstream(msgGeneric, fmt.Errorf("reading completion stream: %w", err))
		}
		if fragment == "" {
			continue
		}

		text.WriteString(fragment)
		if err := sink.Emit(ctx, stream.Chunk(fragment)); err != nil {
			return "", err
		}
	}

	if text.Len() == 0 {
		logger.Warn("engine returned an empty report")
		return "", nil
	}

	emitErr := sink.Emit(ctx, stream.Status(msgSaving))

	// A finished report is kept even if the client has just left.
	p.reports.Set(context.WithoutCancel(ctx), key, model.Report{
		Preset:      req.Preset,
		Username:    req.Identity.SubjectID,
		Text:        text.String(),
		GeneratedAt: p.now().UTC(),
	})

	if emitErr != nil {
		return "", emitErr
	}
	return text.String(), nil
}

// emit sends e and reports whether the sink is still there.
func emit(ctx context.Context, sink stream.Sink, e stream.Event) bool {
	return sink.Emit(ctx, e) == nil
}

// cancelled reports whether err means the caller went away rather than
// something failing.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, stream.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
