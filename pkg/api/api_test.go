package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesis-run/poiesis/pkg/auth"
	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/cluster"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/orchestrator"
	"github.com/poiesis-run/poiesis/pkg/store"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &Server{
		Store:  s,
		Bus:    bus.NewMemoryBus(),
		Driver: cluster.NewFakeDriver(),
		Auth:   auth.NewDummyAuthenticator(),
		Config: config.Load(),
	}
}

func TestServiceInfoIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	router := NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/ga4gh/tes/v1/service-info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var info ServiceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, srv.Config.StdoutStderrTruncationBytes, info.Extensions.StdoutStderrTruncationBytes)
}

func TestCreateTaskRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	router := NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetTask(t *testing.T) {
	srv := newTestServer(t)
	router := NewRouter(srv)

	body := `{"executors":[{"image":"busybox","command":["true"]}]}`
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	getReq := httptest.NewRequest(http.MethodGet, "/ga4gh/tes/v1/tasks/"+created.ID, nil)
	getReq.Header.Set("Authorization", "Bearer alice")
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestGetTaskWrongUserIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	router := NewRouter(srv)

	body := `{"executors":[{"image":"busybox","command":["true"]}]}`
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	getReq := httptest.NewRequest(http.MethodGet, "/ga4gh/tes/v1/tasks/"+created.ID, nil)
	getReq.Header.Set("Authorization", "Bearer bob")
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestCreateTaskRejectsEmptyExecutors(t *testing.T) {
	srv := newTestServer(t)
	router := NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(`{"executors":[]}`))
	req.Header.Set("Authorization", "Bearer alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTaskRejectsInputMissingURLAndContent(t *testing.T) {
	srv := newTestServer(t)
	router := NewRouter(srv)

	body := `{"executors":[{"image":"busybox","command":["true"]}],"inputs":[{"path":"/work/in.txt"}]}`
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTaskRejectsWildcardOutputWithoutPathPrefix(t *testing.T) {
	srv := newTestServer(t)
	router := NewRouter(srv)

	body := `{"executors":[{"image":"busybox","command":["true"]}],"outputs":[{"path":"/work/out/*.txt","url":"file:///dest/"}]}`
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTaskIsIdempotentOnTerminal(t *testing.T) {
	srv := newTestServer(t)
	router := NewRouter(srv)

	body := `{"executors":[{"image":"busybox","command":["true"]}]}`
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	cancelReq := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks/"+created.ID+":cancel", nil)
	cancelReq.Header.Set("Authorization", "Bearer alice")
	cancelRec := httptest.NewRecorder()
	router.ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)

	cancelRec2 := httptest.NewRecorder()
	router.ServeHTTP(cancelRec2, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec2.Code)
}

func TestCancelTaskDeletesPVC(t *testing.T) {
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	driver := cluster.NewFakeDriver()
	srv := &Server{
		Store:  s,
		Bus:    bus.NewMemoryBus(),
		Driver: driver,
		Auth:   auth.NewDummyAuthenticator(),
		Config: config.Load(),
	}
	router := NewRouter(srv)

	body := `{"executors":[{"image":"busybox","command":["true"]}]}`
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	require.NoError(t, driver.CreatePVC(req.Context(), orchestrator.PVCName(created.ID), "", "", 1))
	require.True(t, driver.PVCExists(orchestrator.PVCName(created.ID)))

	cancelReq := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks/"+created.ID+":cancel", nil)
	cancelReq.Header.Set("Authorization", "Bearer alice")
	cancelRec := httptest.NewRecorder()
	router.ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)

	require.False(t, driver.PVCExists(orchestrator.PVCName(created.ID)))
}
