package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockPipelineService struct {
	triggerFn func(ctx context.Context, req RunRequest) (*RunResult, error)
	getFn     func(ctx context.Context, id uint) (*RunResult, error)
}

func (m *mockPipelineService) TriggerRun(ctx context.Context, req RunRequest) (*RunResult, error) {
	return m.triggerFn(ctx, req)
}

func (m *mockPipelineService) GetRun(ctx context.Context, id uint) (*RunResult, error) {
	return m.getFn(ctx, id)
}

func setupPipelineRouter(svc PipelineServiceAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r.Group("/api"), svc, nil)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestPipelineController_TriggerRun(t *testing.T) {
	var got RunRequest
	r := setupPipelineRouter(&mockPipelineService{
		triggerFn: func(_ context.Context, req RunRequest) (*RunResult, error) {
			got = req
			return &RunResult{RunID: 9, Status: RunFailed, Steps: []StepResult{{Name: StepReconcile, Status: StepFailed, ErrorKind: "discovery_empty"}}}, nil
		},
	})

	w := doJSON(r, http.MethodPost, "/api/pipelines/run", `{"data_source_id":4,"run_date":"2026-06-01","force":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.EqualValues(t, 4, got.DataSourceID)
	require.True(t, got.Force)

	var body struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, RunFailed, body.Data.Status)
	require.Equal(t, "discovery_empty", body.Data.Steps[0].ErrorKind)
}

func TestPipelineController_TriggerRunErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"missing source", `{}`, nil, http.StatusBadRequest},
		{"bad date", `{"data_source_id":1,"run_date":"yesterday"}`, nil, http.StatusBadRequest},
		{"unknown source", `{"data_source_id":1}`, ErrDataSourceNotFound, http.StatusNotFound},
		{"in progress", `{"data_source_id":1}`, ErrRunInProgress, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewPipelineService(&fakeTriggerErr{err: tt.err}, nil, clockwork.NewFakeClockAt(day1))
			w := doJSON(setupPipelineRouter(svc), http.MethodPost, "/api/pipelines/run", tt.body)
			require.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

type fakeTriggerErr struct{ err error }

func (f *fakeTriggerErr) RunPipeline(context.Context, uint, time.Time, ...RunOption) (*RunResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &RunResult{Status: RunSucceeded}, nil
}

func TestPipelineController_GetRun(t *testing.T) {
	r := setupPipelineRouter(&mockPipelineService{
		getFn: func(_ context.Context, id uint) (*RunResult, error) {
			if id == 5 {
				return &RunResult{RunID: 5, Status: RunSucceeded}, nil
			}
			return nil, gorm.ErrRecordNotFound
		},
	})

	require.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/api/pipelines/runs/5", "").Code)
	require.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, "/api/pipelines/runs/6", "").Code)
	require.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/api/pipelines/runs/abc", "").Code)
}

func TestPipelineService_DefaultsRunDateToToday(t *testing.T) {
	var gotDate time.Time
	trig := newFakeTrigger()
	svc := NewPipelineService(triggerFunc(func(_ context.Context, _ uint, d time.Time, _ ...RunOption) (*RunResult, error) {
		gotDate = d
		return trig.RunPipeline(context.Background(), 1, d)
	}), nil, clockwork.NewFakeClockAt(day1.Add(20*time.Hour)))

	_, err := svc.TriggerRun(context.Background(), RunRequest{DataSourceID: 1})
	require.NoError(t, err)
	require.Equal(t, day1, gotDate)
}

type triggerFunc func(ctx context.Context, id uint, runDate time.Time, opts ...RunOption) (*RunResult, error)

func (f triggerFunc) RunPipeline(ctx context.Context, id uint, runDate time.Time, opts ...RunOption) (*RunResult, error) {
	return f(ctx, id, runDate, opts...)
}
