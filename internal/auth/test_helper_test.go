package auth

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"dq-engine/internal/logs"
	"dq-engine/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq uint64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	id := atomic.AddUint64(&testDBSeq, 1)
	dsn := fmt.Sprintf("file:auth_test_%d?mode=memory&cache=shared", id)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := storage.Migrate(db, Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type mockKeyService struct {
	CreateFn func(name string) (*APIKey, string, error)
	ListFn   func() ([]APIKey, error)
	RevokeFn func(globalID string) error
	VerifyFn func(plain string) (*APIKey, error)
}

func (m *mockKeyService) CreateAPIKey(name string) (*APIKey, string, error) {
	if m.CreateFn == nil {
		return nil, "", assertErr("CreateAPIKey not implemented")
	}
	return m.CreateFn(name)
}

func (m *mockKeyService) ListAPIKeys() ([]APIKey, error) {
	if m.ListFn == nil {
		return nil, assertErr("ListAPIKeys not implemented")
	}
	return m.ListFn()
}

func (m *mockKeyService) RevokeAPIKey(globalID string) error {
	if m.RevokeFn == nil {
		return assertErr("RevokeAPIKey not implemented")
	}
	return m.RevokeFn(globalID)
}

func (m *mockKeyService) VerifyAPIKey(plain string) (*APIKey, error) {
	if m.VerifyFn == nil {
		return nil, assertErr("VerifyAPIKey not implemented")
	}
	return m.VerifyFn(plain)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type mockLogService struct {
	entries []logs.SystemLog
}

func (m *mockLogService) Log(entry logs.SystemLog, _ any) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockLogService) GetLogs(*logs.LogFilterInput) ([]logs.SystemLog, logs.LogAggregates, int64, error) {
	return nil, logs.LogAggregates{}, 0, nil
}

func setupKeyRouter(svc APIKeyServicePort, ls logs.LogServicePort) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, svc, ls)
	return r
}

func doReq(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func requireContains(t *testing.T, s, sub string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Fatalf("expected %q to contain %q", s, sub)
	}
}
