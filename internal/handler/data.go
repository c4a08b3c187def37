package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/auth"
	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/service"
)

// UserDataLoader loads an activity snapshot. *service.UserDataFetcher
// implements it.
type UserDataLoader interface {
	Fetch(ctx context.Context, src service.ProfileSource) (*model.UserData, error)
}

// DataHandler exposes the caller's activity snapshot, mostly for debugging
// prompts.
type DataHandler struct {
	userdata UserDataLoader
	source   service.SourceFunc
	logger   *slog.Logger
}

func NewDataHandler(userdata UserDataLoader, source service.SourceFunc, logger *slog.Logger) *DataHandler {
	return &DataHandler{userdata: userdata, source: source, logger: logger}
}

// DataResponse carries the snapshot both as structured data (Raw) and as
// the text fed to the model (Parsed).
type DataResponse struct {
	State   string          `json:"state"`
	Raw     *model.UserData `json:"raw,omitempty"`
	Parsed  string          `json:"parsed,omitempty"`
	Message string          `json:"message,omitempty"`
}

// HandleData returns the caller's activity snapshot.
//
// HTTP: GET /api/data
// Auth: Required
func (h *DataHandler) HandleData(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Invalid session ID."))
		return
	}

	data, err := h.userdata.Fetch(r.Context(), h.source(r.Context(), id))
	if err != nil {
		h.logger.Error("fetching user data failed",
			slog.String("login", id.SubjectID),
			slog.String("error", err.Error()),
		)
		msg := "An internal error occurred"
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		writeJSON(w, http.StatusBadGateway, DataResponse{State: "Failed", Message: msg})
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{
		State:  "Success",
		Raw:    data,
		Parsed: service.FormatUserData(data),
	})
}
