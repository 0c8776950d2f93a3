package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roburio/builder-web/internal/config"
	"github.com/roburio/builder-web/internal/db"
	"github.com/roburio/builder-web/internal/models"
	"github.com/roburio/builder-web/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	database, err := db.NewDB(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	blobStore, err := store.New(filepath.Join(dir, "store"))
	require.NoError(t, err)

	cfg := &config.Config{
		ServerHost:     "127.0.0.1",
		ServerPort:     0,
		MaxUploadBytes: 10 * 1024 * 1024,
		LogLevel:       "error",
	}

	return NewServer(database, blobStore, cfg)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func testRecord(job string) *models.ExecutionRecord {
	start := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	return &models.ExecutionRecord{
		UUID:       uuid.NewString(),
		Job:        job,
		Platform:   "hvt",
		StartTime:  start,
		FinishTime: start.Add(3 * time.Minute),
		Result:     models.ExecResult{Kind: models.ResultExited, Code: 0},
		Console:    "ok",
		Files: []models.FileUpload{
			{Filepath: "bin/unikernel.hvt", Data: []byte("main binary bytes")},
			{Filepath: "build-environment", Data: []byte("PATH=/usr/bin\n")},
			{Filepath: "system-packages", Data: []byte("gcc=12.2\n")},
		},
		MainBinary: "bin/unikernel.hvt",
	}
}

func TestUploadAndFetch(t *testing.T) {
	s := newTestServer(t)
	rec := testRecord("unikernel-a")

	w := doJSON(t, s, http.MethodPost, "/api/v1/upload", rec)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Build record is readable.
	w = doJSON(t, s, http.MethodGet, "/api/v1/build/"+rec.UUID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var build models.Build
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &build))
	assert.Equal(t, "unikernel-a", build.JobName)
	assert.NotEmpty(t, build.InputHash)
	assert.NotEmpty(t, build.MainBinarySHA256)

	// Artifact bytes round-trip.
	w = doJSON(t, s, http.MethodGet, "/api/v1/build/"+rec.UUID+"/artifact/bin/unikernel.hvt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "main binary bytes", w.Body.String())

	// Fetch by content hash serves the same blob.
	w = doJSON(t, s, http.MethodGet, "/api/v1/artifact/"+build.MainBinarySHA256, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "main binary bytes", w.Body.String())

	// Job listing includes the implicitly created job.
	w = doJSON(t, s, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var jobs []models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "unikernel-a", jobs[0].Name)
}

func TestUploadDuplicateUUID(t *testing.T) {
	s := newTestServer(t)
	rec := testRecord("unikernel-a")

	w := doJSON(t, s, http.MethodPost, "/api/v1/upload", rec)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/upload", rec)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUploadCorruptDeclaredHash(t *testing.T) {
	s := newTestServer(t)
	rec := testRecord("unikernel-a")
	rec.Files[0].SHA256 = "0000000000000000000000000000000000000000000000000000000000000000"

	w := doJSON(t, s, http.MethodPost, "/api/v1/upload", rec)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadInvalidRecord(t *testing.T) {
	s := newTestServer(t)
	rec := testRecord("unikernel-a")
	rec.Result.Kind = "crashed"

	w := doJSON(t, s, http.MethodPost, "/api/v1/upload", rec)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFoundRoutes(t *testing.T) {
	s := newTestServer(t)
	missing := uuid.NewString()

	for _, path := range []string{
		"/api/v1/build/" + missing,
		"/api/v1/build/" + missing + "/artifact/bin/out",
		"/api/v1/build/" + missing + "/reproducibility",
		"/api/v1/job/absent",
		"/api/v1/job/absent/builds",
		"/api/v1/artifact/ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
	} {
		w := doJSON(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestReproducibilityEndpoint(t *testing.T) {
	s := newTestServer(t)

	ref := testRecord("unikernel-a")
	w := doJSON(t, s, http.MethodPost, "/api/v1/upload", ref)
	require.Equal(t, http.StatusCreated, w.Code)

	// Same input, same output, one hour later.
	repeat := testRecord("unikernel-a")
	repeat.StartTime = ref.StartTime.Add(time.Hour)
	w = doJSON(t, s, http.MethodPost, "/api/v1/upload", repeat)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/build/"+ref.UUID+"/reproducibility", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report struct {
		SameInputSameOutput []models.Build `json:"same_input_same_output"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.SameInputSameOutput, 1)
	assert.Equal(t, repeat.UUID, report.SameInputSameOutput[0].UUID)
}

func TestCompareEndpoint(t *testing.T) {
	s := newTestServer(t)

	left := testRecord("unikernel-a")
	w := doJSON(t, s, http.MethodPost, "/api/v1/upload", left)
	require.Equal(t, http.StatusCreated, w.Code)

	right := testRecord("unikernel-a")
	right.StartTime = left.StartTime.Add(time.Hour)
	right.Files[2].Data = []byte("gcc=13.1\n")
	w = doJSON(t, s, http.MethodPost, "/api/v1/upload", right)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/compare/%s/%s", left.UUID, right.UUID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report struct {
		SystemPackages struct {
			Changed []struct {
				Key string `json:"key"`
				Old string `json:"old"`
				New string `json:"new"`
			} `json:"changed"`
		} `json:"system_packages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.SystemPackages.Changed, 1)
	assert.Equal(t, "gcc", report.SystemPackages.Changed[0].Key)
	assert.Equal(t, "12.2", report.SystemPackages.Changed[0].Old)
	assert.Equal(t, "13.1", report.SystemPackages.Changed[0].New)
}

func TestFailedBuildsPagination(t *testing.T) {
	s := newTestServer(t)

	start := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		rec := testRecord("unikernel-a")
		rec.StartTime = start.Add(time.Duration(i) * time.Hour)
		rec.Result = models.ExecResult{Kind: models.ResultExited, Code: 1}
		w := doJSON(t, s, http.MethodPost, "/api/v1/upload", rec)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/failed-builds?start=1&count=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var builds []models.Build
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &builds))
	assert.Len(t, builds, 2)

	w = doJSON(t, s, http.MethodGet, "/api/v1/failed-builds?start=-1&count=2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveAndCleanup(t *testing.T) {
	s := newTestServer(t)

	rec := testRecord("unikernel-a")
	w := doJSON(t, s, http.MethodPost, "/api/v1/upload", rec)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/v1/build/"+rec.UUID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// The catalog rows are gone; the blobs linger until the cleanup pass.
	w = doJSON(t, s, http.MethodGet, "/api/v1/build/"+rec.UUID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Removed int `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Removed)
}

func TestJobMetadataUpdate(t *testing.T) {
	s := newTestServer(t)

	rec := testRecord("unikernel-a")
	w := doJSON(t, s, http.MethodPost, "/api/v1/upload", rec)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPatch, "/api/v1/job/unikernel-a", jobMetadata{
		Section:  "mirage",
		Synopsis: "test unikernel",
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/job/unikernel-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "mirage", job.Section)

	w = doJSON(t, s, http.MethodDelete, "/api/v1/job/unikernel-a", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var jobs []models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	assert.Empty(t, jobs)
}
