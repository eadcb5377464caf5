package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/dag"
	"github.com/leapstack-labs/hdbgraph/internal/loader"
	"github.com/leapstack-labs/hdbgraph/internal/summary"
)

// maxParseBody bounds the size of an uploaded artifact.
const maxParseBody = 10 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status   string     `json:"status"`
	Nodes    int        `json:"nodes"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
}

type loadErrorResponse struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type graphResponse struct {
	Nodes     []*artifact.Node    `json:"nodes"`
	Conflicts []artifact.Conflict `json:"conflicts"`
	Errors    []loadErrorResponse `json:"errors"`
	Skipped   []string            `json:"skipped"`
}

type nodeResponse struct {
	*artifact.Node
	Dependents []string         `json:"dependents"`
	Upstream   []string         `json:"upstream"`
	Downstream []string         `json:"downstream"`
	Artifact   *loader.Artifact `json:"artifact,omitempty"`
	Summary    []string         `json:"summary,omitempty"`
}

type parseResponse struct {
	Artifact *loader.Artifact `json:"artifact"`
	Nodes    []*artifact.Node `json:"nodes"`
	Order    dag.Order        `json:"order"`
	Summary  []string         `json:"summary"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// current returns the snapshot or answers 503 when there is none yet.
func (s *Server) current(w http.ResponseWriter) (*Snapshot, bool) {
	snap := s.snapshot.Load()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "graph not loaded yet")
		return nil, false
	}
	return snap, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if snap := s.snapshot.Load(); snap != nil {
		resp.Nodes = snap.Graph.Len()
		resp.LoadedAt = &snap.LoadedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.current(w)
	if !ok {
		return
	}

	resp := graphResponse{
		Nodes:     snap.Graph.Nodes(),
		Conflicts: snap.Conflicts,
		Errors:    []loadErrorResponse{},
		Skipped:   []string{},
	}
	for _, e := range snap.Result.Errors {
		resp.Errors = append(resp.Errors, loadErrorResponse{Path: e.Path, Error: e.Err.Error()})
	}
	resp.Skipped = append(resp.Skipped, snap.Result.Skipped...)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOrder(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.current(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Order)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.current(w)
	if !ok {
		return
	}

	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	node, found := snap.Graph.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "node not found: "+id)
		return
	}

	resp := nodeResponse{
		Node:       node,
		Dependents: nonNil(snap.DAG.GetChildren(id)),
		Upstream:   nonNil(snap.DAG.GetUpstreamNodes(id)),
		Downstream: without(snap.DAG.GetAffectedNodes([]string{id}), id),
	}
	if a, ok := snap.Result.Find(id); ok {
		resp.Artifact = a
		resp.Summary = summary.Artifact(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleParse parses one uploaded artifact without touching the snapshot.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Query().Get("name"))
	if name == "." || name == "/" {
		writeError(w, http.StatusBadRequest, "query parameter name is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxParseBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "artifact too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	a, err := loader.LoadBytes(name, body)
	if err != nil {
		s.logger.Debug("parse rejected", "name", name, "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	g := (&loader.Result{Artifacts: []*loader.Artifact{a}}).Graph()
	writeJSON(w, http.StatusOK, parseResponse{
		Artifact: a,
		Nodes:    g.Nodes(),
		Order:    g.Order(),
		Summary:  summary.Artifact(a),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != id {
			out = append(out, s)
		}
	}
	return out
}
