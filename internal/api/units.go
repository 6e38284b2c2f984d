package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fwforge/fwforge/internal/artifact"
	forgeerrors "github.com/fwforge/fwforge/internal/errors"
	"github.com/fwforge/fwforge/internal/ledger"
	"github.com/fwforge/fwforge/internal/project"
	"github.com/fwforge/fwforge/internal/toolchain"
)

// unitResponse is the status shape returned by the unit endpoints.
type unitResponse struct {
	ID          string              `json:"id"`
	ProjectID   string              `json:"projectId"`
	Op          string              `json:"op"`
	Target      string              `json:"target,omitempty"`
	Status      ledger.Status       `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	Artifacts   []artifact.Artifact `json:"artifacts,omitempty"`
	Error       string              `json:"error,omitempty"`
	Log         []ledger.Line       `json:"log,omitempty"`
}

func toUnitResponse(u *ledger.Unit, includeLog bool) unitResponse {
	resp := unitResponse{
		ID:          u.ID,
		ProjectID:   u.ProjectID,
		Op:          u.Op,
		Target:      u.Target,
		Status:      u.Status,
		CreatedAt:   u.CreatedAt,
		CompletedAt: u.CompletedAt,
		Artifacts:   u.Artifacts,
		Error:       u.Error,
	}
	if includeLog {
		resp.Log = u.Lines
	}
	return resp
}

// defaultListLimit caps /api/units when no limit parameter is given.
const defaultListLimit = 50

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, forgeerrors.ValidationFailed("limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	units := s.ledger.List(limit)
	out := make([]unitResponse, 0, len(units))
	for _, u := range units {
		out = append(out, toUnitResponse(u, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := s.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, unitLookupError(chi.URLParam(r, "id"), err))
		return
	}
	writeJSON(w, http.StatusOK, toUnitResponse(unit, true))
}

// unitLookupError keeps a genuine miss distinct from a store that could not
// answer; only the former is a 404.
func unitLookupError(id string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return forgeerrors.UnitNotFound(id)
	}
	return forgeerrors.StorageError("loading unit", err)
}

func (s *Server) handleCancelUnit(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Cancel(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleUnitManifest serves the flash manifest of a successful build unit.
func (s *Server) handleUnitManifest(w http.ResponseWriter, r *http.Request) {
	unit, err := s.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, unitLookupError(chi.URLParam(r, "id"), err))
		return
	}
	if unit.Status != ledger.StatusSuccess || unit.Op != string(toolchain.OpBuild) {
		writeError(w, forgeerrors.New(forgeerrors.CategoryValidation, forgeerrors.SeverityInfo, "unit is not a successful build"))
		return
	}

	proj, err := s.projects.Get(unit.ProjectID)
	if err != nil {
		if err == project.ErrNotFound {
			writeError(w, forgeerrors.ProjectNotFound(unit.ProjectID))
			return
		}
		writeError(w, err)
		return
	}

	manifest, err := artifact.ReadManifest(toolchain.BuildDir(proj.Dir))
	if err != nil {
		writeError(w, forgeerrors.ArtifactResolution(err))
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}
