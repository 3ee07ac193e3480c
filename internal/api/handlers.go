package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/corvid-labs/ragd/internal/answer"
	"github.com/corvid-labs/ragd/internal/ingest"
	"github.com/corvid-labs/ragd/internal/search"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, s.logger, http.StatusBadRequest,
			errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	result, err := s.pipeline.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Replaced {
		status = http.StatusOK
	}
	writeJSON(w, s.logger, status, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// searchRequest is the POST body of /api/v1/search. GET requests carry the
// same fields as query parameters (q, k, filter.<key>=<value>).
type searchRequest struct {
	Query  string            `json:"query"`
	TopK   int               `json:"k,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}

	opts := []search.Option{}
	if req.TopK != 0 {
		// Nonpositive values flow through so the service rejects them.
		opts = append(opts, search.WithTopK(req.TopK))
	}
	if len(req.Filter) > 0 {
		opts = append(opts, search.WithFilter(req.Filter))
	}

	results, err := s.searcher.Search(r.Context(), req.Query, opts...)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": results,
	})
}

func (s *Server) decodeSearchRequest(w http.ResponseWriter, r *http.Request) (searchRequest, bool) {
	var req searchRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, s.logger, http.StatusBadRequest,
				errorResponse{Error: "invalid request body: " + err.Error()})
			return req, false
		}
		return req, true
	}

	q := r.URL.Query()
	req.Query = q.Get("q")
	if raw := q.Get("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, s.logger, http.StatusBadRequest,
				errorResponse{Error: "invalid k: " + raw})
			return req, false
		}
		req.TopK = k
	}
	for key, vals := range q {
		name, ok := strings.CutPrefix(key, "filter.")
		if !ok || len(vals) == 0 {
			continue
		}
		if req.Filter == nil {
			req.Filter = map[string]string{}
		}
		req.Filter[name] = vals[0]
	}
	return req, true
}

// askRequest is the POST body of /api/v1/ask.
type askRequest struct {
	Question string            `json:"question"`
	TopK     int               `json:"k,omitempty"`
	Filter   map[string]string `json:"filter,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, s.logger, http.StatusBadRequest,
			errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	opts := []answer.Option{}
	if req.TopK != 0 {
		opts = append(opts, answer.WithTopK(req.TopK))
	}
	if len(req.Filter) > 0 {
		opts = append(opts, answer.WithFilter(req.Filter))
	}

	ans, err := s.synthesizer.Ask(r.Context(), req.Question, opts...)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, ans)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, s.logger, http.StatusBadRequest,
				errorResponse{Error: "invalid limit: " + raw})
			return
		}
		limit = n
	}

	recs, err := s.store.ListQA(r.Context(), limit)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"history": recs})
}
