package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	forgeerrors "github.com/fwforge/fwforge/internal/errors"
	"github.com/fwforge/fwforge/internal/forge"
	"github.com/fwforge/fwforge/internal/toolchain"
)

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toolchain.Targets())
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projects.List())
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	proj, err := s.projects.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, forgeerrors.ProjectNotFound(chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (s *Server) handleRegisterProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, forgeerrors.ValidationFailed("name", "a non-empty project name is required"))
		return
	}

	proj, err := s.projects.Register(req.Name)
	if err != nil {
		writeError(w, forgeerrors.ValidationFailed("name", err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

func (s *Server) handleImportProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string `json:"url"`
		Name   string `json:"name,omitempty"`
		Branch string `json:"branch,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, forgeerrors.ValidationFailed("url", "a git URL is required"))
		return
	}

	proj, err := s.projects.ImportGit(r.Context(), req.URL, req.Name, req.Branch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

// readmeRenderer converts project READMEs to HTML, GitHub-flavored tables
// and strikethrough included.
var readmeRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

func (s *Server) handleProjectReadme(w http.ResponseWriter, r *http.Request) {
	proj, err := s.projects.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, forgeerrors.ProjectNotFound(chi.URLParam(r, "id")))
		return
	}

	source, err := os.ReadFile(filepath.Join(proj.Dir, "README.md"))
	if err != nil {
		writeError(w, forgeerrors.New(forgeerrors.CategoryNotFound, forgeerrors.SeverityInfo, "project has no README"))
		return
	}

	var rendered bytes.Buffer
	if err := readmeRenderer.Convert(source, &rendered); err != nil {
		writeError(w, forgeerrors.InternalError("rendering README failed", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = rendered.WriteTo(w)
}

// submitRequest is the shared body of all submission endpoints. All fields
// are optional; Target is only consulted by target and build submissions.
type submitRequest struct {
	Target     string `json:"target,omitempty"`
	DeadlineMS int64  `json:"deadline_ms,omitempty"`
}

func (s *Server) decodeSubmission(r *http.Request) (forge.Submission, error) {
	sub := forge.Submission{ProjectID: chi.URLParam(r, "id")}

	var req submitRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if errors.Is(err, io.EOF) {
		// No body at all; every submission field is optional.
		return sub, nil
	}
	if err != nil {
		// A body that was sent but does not parse must not fall through to
		// the project's recorded target: reject before any unit exists.
		return sub, forgeerrors.ValidationFailed("body", "request body is not valid JSON: "+err.Error())
	}

	sub.Target = req.Target
	if req.DeadlineMS > 0 {
		sub.Deadline = time.Duration(req.DeadlineMS) * time.Millisecond
	}
	return sub, nil
}

func (s *Server) respondSubmission(w http.ResponseWriter, unitID string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"unitId": unitID})
}

func (s *Server) handleSubmitSetTarget(w http.ResponseWriter, r *http.Request) {
	sub, err := s.decodeSubmission(r)
	if err != nil {
		writeError(w, err)
		return
	}
	unitID, err := s.orchestrator.SetTarget(r.Context(), sub)
	s.respondSubmission(w, unitID, err)
}

func (s *Server) handleSubmitBuild(w http.ResponseWriter, r *http.Request) {
	sub, err := s.decodeSubmission(r)
	if err != nil {
		writeError(w, err)
		return
	}
	unitID, err := s.orchestrator.Build(r.Context(), sub)
	s.respondSubmission(w, unitID, err)
}

func (s *Server) handleSubmitClean(w http.ResponseWriter, r *http.Request) {
	sub, err := s.decodeSubmission(r)
	if err != nil {
		writeError(w, err)
		return
	}
	unitID, err := s.orchestrator.Clean(r.Context(), sub)
	s.respondSubmission(w, unitID, err)
}

func (s *Server) handleSubmitSize(w http.ResponseWriter, r *http.Request) {
	sub, err := s.decodeSubmission(r)
	if err != nil {
		writeError(w, err)
		return
	}
	unitID, err := s.orchestrator.SizeReport(r.Context(), sub)
	s.respondSubmission(w, unitID, err)
}

func (s *Server) handleSubmitReconfigure(w http.ResponseWriter, r *http.Request) {
	sub, err := s.decodeSubmission(r)
	if err != nil {
		writeError(w, err)
		return
	}
	unitID, err := s.orchestrator.Reconfigure(r.Context(), sub)
	s.respondSubmission(w, unitID, err)
}
