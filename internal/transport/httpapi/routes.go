package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"jobd/internal/engine"
	logx "jobd/pkg/logx"
)

// jobRequest is the create/update payload.
type jobRequest struct {
	Name           string `json:"name"`
	JobTypeKey     string `json:"jobTypeKey"`
	CronExpression string `json:"cronExpression"`
	Description    string `json:"description"`
	Enabled        bool   `json:"enabled"`
}

func (s *Service) router(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(s.logRequests)
	r.Use(throttle(rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondOK(w, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(withAuth(cfg.Token))

		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs", s.handleCreateJob)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Put("/", s.handleUpdateJob)
			r.Delete("/", s.handleDeleteJob)
			r.Put("/toggle", s.handleToggleJob)
			r.Post("/execute", s.handleExecuteJob)
			r.Get("/executions", s.handleListExecutions)
			r.Get("/executions/latest", s.handleLatestExecution)
		})
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Get("/executors", s.handleListExecutors)
		r.Get("/running", s.handleRunning)
		r.Get("/status", s.handleStatus)
	})

	return r
}

func (s *Service) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.mgr.Jobs(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, jobs)
}

func (s *Service) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	def, ok := decodeJob(w, r)
	if !ok {
		return
	}
	job, err := s.mgr.Create(r.Context(), def)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusCreated, apiResponse{Success: true, Data: job})
}

func (s *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.mgr.Job(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, job)
}

func (s *Service) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	def, ok := decodeJob(w, r)
	if !ok {
		return
	}
	job, err := s.mgr.Update(r.Context(), id, def)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, job)
}

func (s *Service) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.mgr.Delete(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	respondMsg(w, http.StatusOK, "job deleted")
}

func (s *Service) handleToggleJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("enabled"))
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		respondMsg(w, http.StatusBadRequest, "query parameter 'enabled' must be true or false")
		return
	}
	job, err := s.mgr.Toggle(r.Context(), id, enabled)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, job)
}

func (s *Service) handleExecuteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	execID, err := s.mgr.ExecuteNow(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusAccepted, apiResponse{Success: true, Data: map[string]int64{"executionId": execID}})
}

func (s *Service) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondMsg(w, http.StatusBadRequest, "query parameter 'limit' must be a non-negative integer")
			return
		}
		limit = n
	}
	execs, err := s.mgr.Executions(r.Context(), id, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, execs)
}

func (s *Service) handleLatestExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	exec, err := s.mgr.LatestExecution(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, exec)
}

func (s *Service) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	exec, err := s.mgr.ExecutionByID(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, exec)
}

func (s *Service) handleListExecutors(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, s.reg.Keys())
}

func (s *Service) handleRunning(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, s.mgr.Running())
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	data := map[string]any{"engine": s.mgr.Snapshot()}
	if sup := s.mgr.Supervisor(); sup != nil {
		data["goroutines"] = sup.Counters()
	}
	respondOK(w, data)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondMsg(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeJob(w http.ResponseWriter, r *http.Request) (engine.JobDef, bool) {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	var req jobRequest
	if err := dec.Decode(&req); err != nil {
		respondMsg(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return engine.JobDef{}, false
	}
	return engine.JobDef{
		Name:           req.Name,
		JobTypeKey:     req.JobTypeKey,
		CronExpression: req.CronExpression,
		Description:    req.Description,
		Enabled:        req.Enabled,
	}, true
}

// ---- middleware ----

func withAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("Authorization")
			if strings.HasPrefix(got, "Bearer ") && strings.TrimSpace(strings.TrimPrefix(got, "Bearer ")) == token {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}
			respondMsg(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func throttle(lim *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				respondMsg(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", sw.status),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
