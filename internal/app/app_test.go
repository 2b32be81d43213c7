package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dq-engine/config"
	"dq-engine/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq uint64

func newTestApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	id := atomic.AddUint64(&testDBSeq, 1)
	dsn := fmt.Sprintf("file:app_test_%d?mode=memory&cache=shared", id)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := config.Config{JWTSecret: "test-secret", MaxConcurrentRuns: 2}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	a, err := NewWithDB(cfg, db, logging.Discard(), clock)
	require.NoError(t, err)
	require.NoError(t, a.Migrate())
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func call(t *testing.T, h http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicEndpoints(t *testing.T) {
	r := newTestApp(t).Router()

	w := call(t, r, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok"`)

	w = call(t, r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = call(t, r, http.MethodGet, "/api/alerts", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_FileSourceEndToEnd(t *testing.T) {
	a := newTestApp(t)
	r := a.Router()
	_, key, err := a.Keys.CreateAPIKey("e2e")
	require.NoError(t, err)

	dir := t.TempDir()
	rows := []string{"id,status"}
	for i := 1; i <= 10; i++ {
		status := ""
		if i > 5 {
			status = "shipped"
		}
		rows = append(rows, fmt.Sprintf("%d,%s", i, status))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"), []byte(strings.Join(rows, "\n")+"\n"), 0o644))

	w := call(t, r, http.MethodPost, "/api/datasources", key, map[string]any{
		"name": "shop", "type": "file", "connection_info": map[string]any{"path": dir},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data struct {
			ID uint `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = call(t, r, http.MethodPost, "/api/pipelines/run", key, map[string]any{
		"data_source_id": created.Data.ID, "run_date": "2026-06-01",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var run struct {
		Data struct {
			RunID         uint   `json:"run_id"`
			Status        string `json:"status"`
			AlertsCreated int    `json:"alerts_created"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Equal(t, "succeeded", run.Data.Status, w.Body.String())
	require.Equal(t, 1, run.Data.AlertsCreated)

	w = call(t, r, http.MethodGet, "/api/alerts?status=active", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var alerts struct {
		Data []struct {
			AlertType string `json:"alert_type"`
			Name      string `json:"name"`
		} `json:"data"`
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alerts))
	require.EqualValues(t, 1, alerts.Total)
	require.Equal(t, "null_rate", alerts.Data[0].AlertType)
	require.Equal(t, "null_rate on orders.status", alerts.Data[0].Name)

	w = call(t, r, http.MethodGet, fmt.Sprintf("/api/pipelines/runs/%d", run.Data.RunID), key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"succeeded"`)

	w = call(t, r, http.MethodGet, fmt.Sprintf("/api/datasources/%d/tables", created.Data.ID), key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"name":"orders"`)

	w = call(t, r, http.MethodGet, "/api/logs?action=pipeline.run", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"principal":"apikey:e2e"`)
	require.Contains(t, w.Body.String(), `"total":1`)
}

func TestModelsCoverEveryPackage(t *testing.T) {
	names := map[string]bool{}
	for _, m := range Models() {
		names[fmt.Sprintf("%T", m)] = true
	}
	for _, want := range []string{"*catalog.DataSource", "*alert.Alert", "*pipeline.PipelineRun", "*auth.APIKey", "*logs.SystemLog"} {
		require.True(t, names[want], want)
	}
}
