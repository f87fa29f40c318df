package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shelfline-wms/shelfline/internal/platform/httpx"
)

// RunLister lists recent runs for the review dashboard.
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]Run, error)
}

// Handler exposes the import lifecycle over JSON.
type Handler struct {
	logger   *slog.Logger
	orch     *Orchestrator
	lister   RunLister
	cache    *RunCache
	coord    *Coordinator
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, orch *Orchestrator, lister RunLister, cache *RunCache, coord *Coordinator) *Handler {
	if coord == nil {
		coord = NewCoordinator()
	}
	return &Handler{
		logger:   logger,
		orch:     orch,
		lister:   lister,
		cache:    cache,
		coord:    coord,
		validate: validator.New(),
	}
}

// MountRoutes registers import routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/imports", h.listRuns)
	r.Post("/imports", h.uploadImport)
	r.Post("/imports/url", h.urlImport)
	r.Get("/imports/{id}", h.showRun)
	r.Get("/imports/{id}/conflicts", h.listConflicts)
	r.Post("/imports/{id}/resolutions", h.applyResolutions)
	r.Post("/imports/{id}/commit", h.commitRun)
}

type runResponse struct {
	ID        string        `json:"id"`
	Source    SourceKind    `json:"source"`
	SourceRef string        `json:"sourceRef,omitempty"`
	Status    RunStatus     `json:"status"`
	Summary   Summary       `json:"summary"`
	Result    *CommitResult `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func toRunResponse(run Run) runResponse {
	return runResponse{
		ID:        run.ID,
		Source:    run.Source,
		SourceRef: run.SourceRef,
		Status:    run.Status,
		Summary:   run.Summary,
		Result:    run.Result,
		Error:     run.Error,
	}
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.lister.ListRecent(r.Context(), 20)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": out})
}

// uploadImport accepts a CSV document, either as a multipart "file" part or
// as the raw request body.
func (h *Handler) uploadImport(w http.ResponseWriter, r *http.Request) {
	src, cleanup, err := uploadSource(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Upload", err.Error())
		return
	}
	defer cleanup()
	run, err := h.orch.Parse(r.Context(), src, SourceUpload)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRunResponse(run))
}

type urlImportRequest struct {
	URL string `json:"url" validate:"required,url"`
}

func (h *Handler) urlImport(w http.ResponseWriter, r *http.Request) {
	var req urlImportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	// One in-flight run per feed; a concurrent request is told to retry
	// rather than racing the snapshot.
	token := uuid.NewString()
	if !h.coord.Acquire(req.URL, token) {
		httpx.Problem(w, http.StatusConflict, "Import In Progress", "an import for this feed is already running")
		return
	}
	defer h.coord.Release(req.URL, token)

	run, err := h.orch.Parse(r.Context(), NewURLSource(nil, req.URL), SourceURL)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRunResponse(run))
}

// showRun serves the run snapshot cache-first; only a miss reads the store.
func (h *Handler) showRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.cache.Run(r.Context(), id, func(ctx context.Context) (Run, error) {
		return h.orch.GetRun(ctx, id)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	run, err := h.orch.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	pending := make([]Conflict, 0)
	for _, conflict := range run.Conflicts() {
		if conflict.Status == ConflictPending {
			pending = append(pending, conflict)
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"runId":     run.ID,
		"status":    run.Status,
		"conflicts": pending,
	})
}

type resolutionDTO struct {
	RowIndex         int    `json:"rowIndex" validate:"gte=0"`
	Action           string `json:"action" validate:"required"`
	TargetID         string `json:"targetId"`
	UseCSVDimensions bool   `json:"useCsvDimensions"`
}

type resolutionsRequest struct {
	Resolutions []resolutionDTO `json:"resolutions" validate:"required,min=1,dive"`
}

func (h *Handler) applyResolutions(w http.ResponseWriter, r *http.Request) {
	var req resolutionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	resolutions := make([]Resolution, 0, len(req.Resolutions))
	for _, dto := range req.Resolutions {
		resolutions = append(resolutions, Resolution{
			RowIndex:         dto.RowIndex,
			Action:           ResolutionAction(dto.Action),
			TargetID:         dto.TargetID,
			UseCSVDimensions: dto.UseCSVDimensions,
		})
	}
	run, err := h.orch.ApplyResolutions(r.Context(), chi.URLParam(r, "id"), resolutions)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.invalidateCache(r.Context())
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) commitRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.orch.Commit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.invalidateCache(r.Context())
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) invalidateCache(ctx context.Context) {
	if err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Warn("invalidate run cache", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRunCommitted), errors.Is(err, ErrRunNotReady), errors.Is(err, ErrUnresolvedConflicts):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoRows), errors.Is(err, ErrUnknownAction):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		h.logger.Error("import request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// uploadSource picks the CSV stream off the request. The returned cleanup
// closes the multipart part once the rows are consumed.
func uploadSource(r *http.Request) (*CSVSource, func(), error) {
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		if file, header, ferr := r.FormFile("file"); ferr == nil {
			return NewCSVSource(file, header.Filename), func() { _ = file.Close() }, nil
		}
	}
	if r.Body == nil {
		return nil, nil, errors.New("empty request body")
	}
	return NewCSVSource(r.Body, "upload"), func() {}, nil
}
