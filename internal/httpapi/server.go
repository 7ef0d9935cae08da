// Package httpapi exposes a run client over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evotree/internal/config"
	"evotree/internal/evo"
	"evotree/internal/grammar"
	"evotree/internal/model"
	"evotree/pkg/evotree"
)

const maxConfigBytes = 1 << 20

type Options struct {
	// Gatherer, when set, is served on /metrics.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type Server struct {
	Client *evotree.Client
	logger *slog.Logger
}

// NewHandler routes the run API onto client.
func NewHandler(client *evotree.Client, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{Client: client, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/primitives", s.ListPrimitives)
	r.Get("/operators", s.ListOperators)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.ListRuns)
		r.Post("/", s.StartRun)
		r.Get("/active", s.ListActive)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.GetRun)
			r.Delete("/", s.DeleteRun)
			r.Get("/history", s.GetHistory)
			r.Get("/generations", s.GetGenerations)
			r.Get("/top", s.GetTop)
			r.Get("/summary", s.GetSummary)
			r.Post("/stop", s.StopRun)
			r.Post("/replay", s.ReplayRun)
		})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type runSummaryResponse struct {
	RunID            string        `json:"run_id"`
	Generations      int           `json:"generations"`
	Stopped          bool          `json:"stopped"`
	BestByGeneration []model.Score `json:"best_by_generation"`
	FinalBestFitness model.Score   `json:"final_best_fitness"`
	BestExpression   string        `json:"best_expression"`
	BestInfix        string        `json:"best_infix"`
	TestFitness      *model.Score  `json:"test_fitness,omitempty"`
	TunedFitness     *model.Score  `json:"tuned_fitness,omitempty"`
	TunedExpression  string        `json:"tuned_expression,omitempty"`
	ArtifactsDir     string        `json:"artifacts_dir,omitempty"`
}

type runItemResponse struct {
	RunID          string      `json:"run_id"`
	StartedAt      time.Time   `json:"started_at"`
	Problem        string      `json:"problem"`
	Seed           int64       `json:"seed"`
	Population     int         `json:"population"`
	Generations    int         `json:"generations"`
	Stopped        bool        `json:"stopped"`
	BestFitness    model.Score `json:"best_fitness"`
	BestExpression string      `json:"best_expression"`
}

type seriesSummaryResponse struct {
	Points      int         `json:"points"`
	Failed      int         `json:"failed"`
	Initial     model.Score `json:"initial"`
	Final       model.Score `json:"final"`
	Mean        model.Score `json:"mean"`
	StdDev      model.Score `json:"std_dev"`
	Min         model.Score `json:"min"`
	Max         model.Score `json:"max"`
	Median      model.Score `json:"median"`
	Improvement model.Score `json:"improvement"`
	Stagnation  int         `json:"stagnation"`
}

type primitiveResponse struct {
	Name     string   `json:"name"`
	MinArity int      `json:"min_arity"`
	MaxArity int      `json:"max_arity"`
	Inputs   []string `json:"inputs"`
	Output   string   `json:"output"`
}

type operatorsResponse struct {
	Mutations  []string `json:"mutations"`
	Crossovers []string `json:"crossovers"`
}

type replayRequest struct {
	Overrides []string `json:"overrides"`
	TopN      int      `json:"top_n"`
}

func (s *Server) GetHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ListPrimitives(w http.ResponseWriter, _ *http.Request) {
	names := grammar.ListPrimitives()
	out := make([]primitiveResponse, 0, len(names))
	for _, name := range names {
		spec, err := grammar.LookupPrimitive(name)
		if err != nil {
			continue
		}
		inputs := make([]string, 0, len(spec.Inputs))
		for _, in := range spec.Inputs {
			inputs = append(inputs, string(in))
		}
		out = append(out, primitiveResponse{
			Name:     spec.Name,
			MinArity: spec.MinArity,
			MaxArity: spec.MaxArity,
			Inputs:   inputs,
			Output:   string(spec.Output),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) ListOperators(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, operatorsResponse{
		Mutations:  evo.ListMutations(),
		Crossovers: evo.ListCrossovers(),
	})
}

func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := s.Client.Runs(r.Context(), evotree.RunsRequest{Limit: limit})
	if err != nil {
		s.fail(w, "list runs", err)
		return
	}
	out := make([]runItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, runItemResponse{
			RunID:          item.RunID,
			StartedAt:      item.StartedAt,
			Problem:        item.Problem,
			Seed:           item.Seed,
			Population:     item.Population,
			Generations:    item.Generations,
			Stopped:        item.Stopped,
			BestFitness:    model.Score(item.BestFitness),
			BestExpression: item.BestExpression,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// StartRun decodes a JSON config over the defaults and runs it to completion.
// A disconnecting client cancels the run.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := config.Default()
	if len(body) > 0 {
		if cfg, err = config.Parse(body, ".json"); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	topN, err := queryInt(r, "top")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := s.Client.Run(r.Context(), evotree.RunRequest{Config: cfg, TopN: topN})
	if err != nil {
		s.fail(w, "run", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, summaryResponse(summary))
}

func (s *Server) ReplayRun(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxConfigBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	summary, err := s.Client.Replay(r.Context(), evotree.ReplayRequest{
		Query:     evotree.RunQuery{RunID: chi.URLParam(r, "runID")},
		Overrides: req.Overrides,
		TopN:      req.TopN,
	})
	if err != nil {
		s.fail(w, "replay", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, summaryResponse(summary))
}

func (s *Server) ListActive(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Client.Active())
}

func (s *Server) StopRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.Client.Stop(runID) {
		s.writeError(w, http.StatusNotFound, errors.New("run is not active: "+runID))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Client.GetRun(r.Context(), query(r))
	if err != nil {
		s.fail(w, "get run", err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.Client.Delete(r.Context(), chi.URLParam(r, "runID")); err != nil {
		s.fail(w, "delete run", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Client.FitnessHistory(r.Context(), query(r))
	if err != nil {
		s.fail(w, "fitness history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, model.Scores(history))
}

func (s *Server) GetGenerations(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	q.Limit = limit
	generations, err := s.Client.Generations(r.Context(), q)
	if err != nil {
		s.fail(w, "generations", err)
		return
	}
	s.writeJSON(w, http.StatusOK, generations)
}

func (s *Server) GetTop(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	q.Limit = limit
	top, err := s.Client.TopIndividuals(r.Context(), q)
	if err != nil {
		s.fail(w, "top individuals", err)
		return
	}
	s.writeJSON(w, http.StatusOK, top)
}

func (s *Server) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Client.Summary(r.Context(), query(r))
	if err != nil {
		s.fail(w, "summary", err)
		return
	}
	s.writeJSON(w, http.StatusOK, seriesSummaryResponse{
		Points:      sum.Points,
		Failed:      sum.Failed,
		Initial:     model.Score(sum.Initial),
		Final:       model.Score(sum.Final),
		Mean:        model.Score(sum.Mean),
		StdDev:      model.Score(sum.StdDev),
		Min:         model.Score(sum.Min),
		Max:         model.Score(sum.Max),
		Median:      model.Score(sum.Median),
		Improvement: model.Score(sum.Improvement),
		Stagnation:  sum.Stagnation,
	})
}

// query maps the path id onto a RunQuery; the id "latest" selects the most
// recent run.
func query(r *http.Request) evotree.RunQuery {
	runID := chi.URLParam(r, "runID")
	if runID == "latest" {
		return evotree.RunQuery{Latest: true}
	}
	return evotree.RunQuery{RunID: runID}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return v, nil
}

func summaryResponse(summary evotree.RunSummary) runSummaryResponse {
	out := runSummaryResponse{
		RunID:            summary.RunID,
		Generations:      summary.Generations,
		Stopped:          summary.Stopped,
		BestByGeneration: model.Scores(summary.BestByGeneration),
		FinalBestFitness: model.Score(summary.FinalBestFitness),
		BestExpression:   summary.BestExpression,
		BestInfix:        summary.BestInfix,
		TunedExpression:  summary.TunedExpression,
		ArtifactsDir:     summary.ArtifactsDir,
	}
	if summary.TestFitness != nil {
		v := model.Score(*summary.TestFitness)
		out.TestFitness = &v
	}
	if summary.TunedFitness != nil {
		v := model.Score(*summary.TunedFitness)
		out.TunedFitness = &v
	}
	return out
}

// fail maps client errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, evotree.ErrRunNotFound), errors.Is(err, evotree.ErrNoRuns):
		status = http.StatusNotFound
	case errors.Is(err, config.ErrInvalidConfig):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
