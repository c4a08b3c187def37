package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/auth"
	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/service"
	"github.com/sakif/github-report/internal/stream"
)

// PresetCatalog lists the known presets. *preset.Registry implements it.
type PresetCatalog interface {
	Default() string
	Has(key string) bool
	List() []model.Preset
}

// ReportGenerator runs one report request. *service.ReportPipeline
// implements it.
type ReportGenerator interface {
	Generate(ctx context.Context, req service.ReportRequest, sink stream.Sink)
}

// ReportHandler serves generated reports.
type ReportHandler struct {
	presets PresetCatalog
	reports ReportGenerator
	logger  *slog.Logger
}

func NewReportHandler(presets PresetCatalog, reports ReportGenerator, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		presets: presets,
		reports: reports,
		logger:  logger,
	}
}

// ReportResponse is the body of a non-streamed report.
type ReportResponse struct {
	State  string `json:"state"`
	Report string `json:"report"`
}

// HandleReport returns the caller's report for a preset.
//
// HTTP: GET /api/report?preset=man_page&force_regen=false&stream=true
// Auth: Required
//
// With stream=true (the default) the response is an SSE stream of status,
// chunk, complete and generate_error events. With stream=false the handler
// waits for the outcome and answers with a single JSON body.
func (h *ReportHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Invalid session ID."))
		return
	}

	req, streamed, err := h.parseRequest(r, id)
	if err != nil {
		writeError(w, err)
		return
	}

	logger := h.logger.With(
		slog.String("preset", req.Preset),
		slog.String("login", id.SubjectID),
	)

	if streamed {
		h.serveStream(w, r, req, logger)
		return
	}
	h.serveJSON(w, r, req, logger)
}

func (h *ReportHandler) parseRequest(r *http.Request, id model.Identity) (service.ReportRequest, bool, error) {
	q := r.URL.Query()

	presetKey := q.Get("preset")
	if presetKey == "" {
		presetKey = h.presets.Default()
	}
	if !h.presets.Has(presetKey) {
		return service.ReportRequest{}, false,
			apperror.ValidationFailed("preset", fmt.Sprintf("Preset '%s' not found.", presetKey))
	}

	force, err := boolParam(q.Get("force_regen"), false)
	if err != nil {
		return service.ReportRequest{}, false, apperror.ValidationFailed("force_regen", "force_regen must be true or false")
	}
	streamed, err := boolParam(q.Get("stream"), true)
	if err != nil {
		return service.ReportRequest{}, false, apperror.ValidationFailed("stream", "stream must be true or false")
	}

	return service.ReportRequest{Identity: id, Preset: presetKey, ForceRegen: force}, streamed, nil
}

// serveStream runs the pipeline in its own goroutine and relays its events
// until the pipeline finishes or the client disconnects.
func (h *ReportHandler) serveStream(w http.ResponseWriter, r *http.Request, req service.ReportRequest, logger *slog.Logger) {
	ctx := r.Context()
	sess := stream.NewSession()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sess.Close()
		h.reports.Generate(ctx, req, sess)
	}()

	if err := stream.Serve(ctx, w, sess); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("report stream ended early", slog.String("error", err.Error()))
	}
	<-done
}

// serveJSON waits for the whole generation and answers once.
//
// WHY CLEAR THE DEADLINE?
// The server's WriteTimeout starts counting when the request is read, not
// when the first byte goes out. A report that takes longer than that to
// generate would still be produced and cached, but the connection would be
// dropped before the JSON is written.
func (h *ReportHandler) serveJSON(w http.ResponseWriter, r *http.Request, req service.ReportRequest, logger *slog.Logger) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("clearing write deadline", slog.String("error", err.Error()))
	}

	var c stream.Collector
	h.reports.Generate(r.Context(), req, &c)

	e, ok := c.Result()
	if !ok {
		// The client went away; nobody is left to answer.
		return
	}

	switch {
	case e.Type == stream.TypeComplete:
		writeJSON(w, http.StatusOK, ReportResponse{State: "Success", Report: e.Message})
	case e.Code == stream.CodeInProgress:
		writeError(w, apperror.Conflict(e.Message))
	case e.Code == stream.CodeConfig:
		writeError(w, apperror.Misconfigured(e.Message))
	default:
		writeError(w, apperror.Upstream(e.Message, nil))
	}
}

func boolParam(v string, def bool) (bool, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}
