package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/directory"
	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/orchestrator"
	"github.com/sells-group/registry-crawler/internal/source"
	"github.com/sells-group/registry-crawler/internal/store"
)

// CompanyResponse is the reply to POST /api/company. Files groups the raw
// artifacts by source; every known key is present, null when missing.
// Registernummer repeats RegisterNumber for older consumers.
type CompanyResponse struct {
	CompanyName      string                              `json:"company_name"`
	RegisterNumber   string                              `json:"register_number"`
	Registernummer   string                              `json:"registernummer"`
	Success          bool                                `json:"success"`
	Error            *string                             `json:"error"`
	Files            map[model.Source]map[string]*string `json:"files"`
	ExtractedUstIdNr string                              `json:"extracted_ust_idnr,omitempty"`
	Record           *model.MergedRecord                 `json:"record,omitempty"`
	Sources          []model.SourceOutcome               `json:"sources,omitempty"`
	RunID            string                              `json:"run_id,omitempty"`
}

func emptyFiles() map[model.Source]map[string]*string {
	out := make(map[model.Source]map[string]*string, len(model.Sources))
	for _, src := range model.Sources {
		out[src] = source.EmptyArtifacts(src)
	}
	return out
}

// FailureResponse reports a crawl that produced nothing.
func FailureResponse(name, reg, msg string) CompanyResponse {
	return CompanyResponse{
		CompanyName:    name,
		RegisterNumber: reg,
		Registernummer: reg,
		Error:          &msg,
		Files:          emptyFiles(),
	}
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	var req directory.Entry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, FailureResponse("", "", "invalid request body: "+err.Error()))
		return
	}
	id, err := req.Identifier()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, FailureResponse(req.CompanyName, req.RegisterNumber, err.Error()))
		return
	}

	log := zap.L().With(zap.String("company", id.Name()), zap.String("register_number", id.RegisterNumber()))
	log.Info("api: crawl requested")

	out, err := s.crawler.Run(r.Context(), id)
	if err != nil {
		log.Error("api: crawl failed", zap.Error(err))
		writeJSON(w, http.StatusOK, FailureResponse(id.Name(), id.RegisterNumber(), err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, NewCompanyResponse(id, out))
}

// NewCompanyResponse renders a finished crawl.
func NewCompanyResponse(id model.CompanyIdentifier, out *orchestrator.Outcome) CompanyResponse {
	return CompanyResponse{
		CompanyName:      id.Name(),
		RegisterNumber:   id.RegisterNumber(),
		Registernummer:   id.RegisterNumber(),
		Success:          true,
		Files:            out.Artifacts,
		ExtractedUstIdNr: out.ExtractedTaxID,
		Record:           out.Record,
		Sources:          out.Sources,
		RunID:            out.RunID,
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "German Company Registry Crawler API",
		"version": s.opts.Version,
		"status":  "active",
		"endpoints": map[string]string{
			"company_crawler": "/api/company",
			"runs":            "/api/runs",
			"health":          "/health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "healthy", "service": "registry-crawler"}
	if s.opts.Circuits != nil {
		body["circuits"] = s.opts.Circuits()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:         model.RunStatus(q.Get("status")),
		RegisterNumber: q.Get("register_number"),
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+key)
				return
			}
			*dst = n
		}
	}
	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}
