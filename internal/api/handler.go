package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/legitimacy"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const defaultMaxUpload = 32 << 20

// Pipeline is the training and scoring surface the API drives.
type Pipeline interface {
	Artifacts() *domain.Artifacts
	TrainFromReader(ctx context.Context, r io.Reader, user domain.UserContext) (*domain.Artifacts, error)
	TrainFromPath(ctx context.Context, path string, user domain.UserContext) (*domain.Artifacts, error)
	Score(ctx context.Context, tx *domain.Transaction, user domain.UserContext, traceID string) (*domain.Evaluation, error)
}

// Deps are the collaborators behind the handlers. Cache and Bus are only
// used for readiness checks and may be nil.
type Deps struct {
	Pipeline Pipeline
	Repo     domain.Repository
	Verifier legitimacy.Verifier
	Registry *legitimacy.Registry
	Cache    domain.Cache
	Bus      domain.EventBus
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps      Deps
	maxUpload int64
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handler{deps: deps, maxUpload: maxUpload}
}

// TrainResponse is the response for POST /train.
type TrainResponse struct {
	ModelID   string                 `json:"modelId"`
	ProfileID string                 `json:"profileId"`
	Schema    domain.Schema          `json:"schema"`
	Report    *domain.TrainingReport `json:"report"`
}

// Train handles POST /train. A multipart "file" field is used as the
// history; without one the configured default dataset is read.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		a   *domain.Artifacts
		err error
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart upload")
			return
		}
		defer r.MultipartForm.RemoveAll()

		user, uerr := formUser(r)
		if uerr != nil {
			writeError(w, http.StatusBadRequest, uerr.Error())
			return
		}

		file, _, ferr := r.FormFile("file")
		switch {
		case errors.Is(ferr, http.ErrMissingFile):
			a, err = h.deps.Pipeline.TrainFromPath(ctx, "", user)
		case ferr != nil:
			writeError(w, http.StatusBadRequest, "invalid file field")
			return
		default:
			defer file.Close()
			a, err = h.deps.Pipeline.TrainFromReader(ctx, file, user)
		}
	} else {
		a, err = h.deps.Pipeline.TrainFromPath(ctx, "", domain.UserContext{})
	}

	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("model trained",
		"model_id", a.Model.ID,
		"profile_id", a.Profile.ID,
		"auc", a.Model.Report.AUC,
	)
	writeJSON(w, http.StatusOK, TrainResponse{
		ModelID:   a.Model.ID,
		ProfileID: a.Profile.ID,
		Schema:    a.Model.Schema,
		Report:    a.Model.Report,
	})
}

func formUser(r *http.Request) (domain.UserContext, error) {
	var u domain.UserContext
	for field, dst := range map[string]*int{"creditScore": &u.CreditScore, "age": &u.Age} {
		v := r.FormValue(field)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return u, errors.New(field + " must be an integer")
		}
		*dst = n
	}
	return u, nil
}

// Predict handles POST /predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	tx, user, err := req.ToTransaction()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	eval, err := h.deps.Pipeline.Score(ctx, tx, user, GetTraceID(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eval.ToResponse())
}

// GetProfile returns the active behavioral profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	a := h.deps.Pipeline.Artifacts()
	if a == nil {
		writeDomainError(w, domain.ErrModelNotTrained)
		return
	}
	writeJSON(w, http.StatusOK, a.Profile)
}

// GetReport returns the evaluation report of the active model.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	a := h.deps.Pipeline.Artifacts()
	if a == nil {
		writeDomainError(w, domain.ErrModelNotTrained)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"modelId":   a.Model.ID,
		"profileId": a.Profile.ID,
		"createdAt": a.Model.CreatedAt,
		"report":    a.Model.Report,
	})
}

// VerifyCompany handles GET /companies/verify?name=.
func (h *Handler) VerifyCompany(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	resp := map[string]any{
		"name":       name,
		"normalized": legitimacy.Normalize(name),
		"legitimate": h.deps.Verifier.IsLegitimate(r.Context(), name),
	}
	if h.deps.Registry != nil {
		if match, score, ok := h.deps.Registry.Match(name); ok {
			resp["match"] = match
			resp["score"] = score
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	evalID := chi.URLParam(r, "id")

	eval, err := h.deps.Repo.GetEvaluation(r.Context(), evalID)
	if err != nil {
		writeLookupError(w, "evaluation", evalID, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// GetTransaction retrieves a stored history transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.deps.Repo.GetTransaction(r.Context(), txID)
	if err != nil {
		writeLookupError(w, "transaction", txID, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.deps.Repo != nil {
		if err := h.deps.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	modelID := ""
	if a := h.deps.Pipeline.Artifacts(); a != nil {
		modelID = a.Model.ID
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.deps.Version,
		"modelId": modelID,
	})
}

// Ready reports whether every backing service answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	if h.deps.Repo != nil {
		check("repository", h.deps.Repo.Ping)
	}
	if h.deps.Cache != nil {
		check("cache", h.deps.Cache.Ping)
	}
	if h.deps.Bus != nil {
		check("bus", h.deps.Bus.Ping)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch domain.Classify(err) {
	case domain.KindRetrainRequired, domain.KindConflict:
		return http.StatusConflict
	case domain.KindMalformedInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "kind", domain.Classify(err), "error", err)
		writeJSON(w, status, map[string]string{
			"error": "internal error",
			"kind":  string(domain.Classify(err)),
		})
		return
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(domain.Classify(err)),
	})
}

func writeLookupError(w http.ResponseWriter, what, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.Error("failed to get "+what, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to get "+what)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
