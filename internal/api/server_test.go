package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwforge/fwforge/internal/forge"
	"github.com/fwforge/fwforge/internal/ledger"
	"github.com/fwforge/fwforge/internal/logstream"
	"github.com/fwforge/fwforge/internal/project"
	"github.com/fwforge/fwforge/internal/toolchain"
)

const fakeTool = `#!/bin/sh
case "$1" in
  build)
    mkdir -p build
    printf 'app' > build/app.bin
    ;;
  size)
    sleep 5
    ;;
esac
echo "done $1"
`

type apiEnv struct {
	server *Server
	ledger *ledger.Ledger
	hub    *logstream.Hub
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "blinky")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CMakeLists.txt"), []byte("project(blinky)\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Blinky\n\nA *test* project.\n"), 0644))

	projects, err := project.NewStore(root)
	require.NoError(t, err)
	require.NoError(t, projects.SetTarget("blinky", "esp32"))

	toolPath := filepath.Join(t.TempDir(), "fake-tool")
	require.NoError(t, os.WriteFile(toolPath, []byte(fakeTool), 0755))

	ldg, err := ledger.New(t.Context(), nil, 100)
	require.NoError(t, err)

	hub := logstream.NewHub(256, nil)
	t.Cleanup(hub.Close)

	orch := forge.New(projects, ldg, hub, toolchain.New(toolPath, nil), forge.Options{
		DefaultTarget: "esp32",
		GracePeriod:   time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	server := NewServer(":0", projects, orch, ldg, hub, Options{})
	return &apiEnv{server: server, ledger: ldg, hub: hub}
}

func (env *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (env *apiEnv) awaitTerminal(t *testing.T, unitID string) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		unit, err := env.ledger.Get(t.Context(), unitID)
		require.NoError(t, err)
		if unit.Status.Terminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("unit %s never finished", unitID)
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitBuildReturnsUnitImmediately(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/projects/blinky/build", map[string]string{"target": "esp32"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["unitId"])

	env.awaitTerminal(t, resp["unitId"])

	// The unit endpoint serves the final state including the transcript.
	rec = env.do(t, http.MethodGet, "/api/units/"+resp["unitId"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var unit unitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unit))
	assert.Equal(t, ledger.StatusSuccess, unit.Status)
	assert.NotEmpty(t, unit.Log)
	assert.NotEmpty(t, unit.Artifacts)
	assert.NotNil(t, unit.CompletedAt)
}

func TestSubmitUnknownProject(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/projects/ghost/build", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBusyProjectConflict(t *testing.T) {
	env := newAPIEnv(t)

	// The size command sleeps, holding the project lock.
	rec := env.do(t, http.MethodPost, "/api/projects/blinky/size", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var first map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = env.do(t, http.MethodPost, "/api/projects/blinky/build", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/units/"+first["unitId"]+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	env.awaitTerminal(t, first["unitId"])
}

func TestListUnitsLimit(t *testing.T) {
	env := newAPIEnv(t)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/api/projects/blinky/reconfigure", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		env.awaitTerminal(t, resp["unitId"])
	}

	rec := env.do(t, http.MethodGet, "/api/units?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var units []unitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &units))
	assert.Len(t, units, 2)

	rec = env.do(t, http.MethodGet, "/api/units?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnitNotFound(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/api/units/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/units/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterProject(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "Sensor Node"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var proj project.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proj))
	assert.Equal(t, "sensor-node", proj.ID)

	rec = env.do(t, http.MethodPost, "/api/projects", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectReadmeRendered(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/projects/blinky/readme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1")
	assert.Contains(t, rec.Body.String(), "<em>test</em>")
}

func TestManifestRequiresSuccessfulBuild(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/projects/blinky/reconfigure", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	env.awaitTerminal(t, resp["unitId"])

	rec = env.do(t, http.MethodGet, "/api/units/"+resp["unitId"]+"/manifest", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitMalformedBodyRejected(t *testing.T) {
	env := newAPIEnv(t)

	// A body that was sent but does not parse is a validation failure; the
	// request must not fall through to the recorded target.
	req := httptest.NewRequest(http.MethodPost, "/api/projects/blinky/build", strings.NewReader(`{"target": "esp32s3"`))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"category":"validation"`)
	assert.Empty(t, env.ledger.List(10), "rejected submission created a unit")

	// An absent body stays legal; clean needs no parameters.
	rec = env.do(t, http.MethodPost, "/api/projects/blinky/clean", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	env.awaitTerminal(t, resp["unitId"])
}

func TestUnitLookupStoreFailure(t *testing.T) {
	projects, err := project.NewStore(t.TempDir())
	require.NoError(t, err)

	store, err := ledger.NewSQLiteStore(filepath.Join(t.TempDir(), "units.db"))
	require.NoError(t, err)
	ldg, err := ledger.New(t.Context(), store, 10)
	require.NoError(t, err)

	hub := logstream.NewHub(16, nil)
	t.Cleanup(hub.Close)
	orch := forge.New(projects, ldg, hub, toolchain.New("idf.py", nil), forge.Options{})
	server := NewServer(":0", projects, orch, ldg, hub, Options{})

	// Close the database underneath the ledger: a lookup that misses memory
	// now fails in the store and must not masquerade as not-found.
	require.NoError(t, ldg.Close())

	req := httptest.NewRequest(http.MethodGet, "/api/units/missing", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"category":"storage"`)
}

func TestTargetsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/api/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var targets []toolchain.Target
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &targets))
	assert.NotEmpty(t, targets)
}
