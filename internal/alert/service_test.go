package alert

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func sptr(s string) *string { return &s }

func seedAlerts(t *testing.T, db *gorm.DB) {
	t.Helper()
	rows := []Alert{
		{DataSourceID: 1, TableID: uptr(10), FieldID: uptr(100), AlertType: "null_rate", Severity: "warning", Status: StatusActive, TriggeredAt: t0},
		{DataSourceID: 1, TableID: uptr(10), AlertType: "row_count_gap", Severity: "critical", Status: StatusActive, TriggeredAt: t0.Add(24 * time.Hour)},
		{DataSourceID: 1, TableID: uptr(11), FieldID: uptr(110), AlertType: "null_rate", Severity: "warning", Status: StatusResolved, TriggeredAt: t0.Add(48 * time.Hour)},
		{DataSourceID: 2, TableID: uptr(20), FieldID: uptr(200), AlertType: "zscore_outlier", Severity: "warning", Status: StatusActive, TriggeredAt: t0.Add(72 * time.Hour)},
	}
	for i := range rows {
		rows[i].Name = rows[i].AlertType
		rows[i].LastSeenAt = rows[i].TriggeredAt
		require.NoError(t, db.Create(&rows[i]).Error)
	}
}

func TestAlertService_ListAlerts_Filters(t *testing.T) {
	db := newTestDB(t)
	seedAlerts(t, db)
	svc := NewAlertService(db)

	all, total, err := svc.ListAlerts(&AlertFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
	require.Equal(t, "zscore_outlier", all[0].AlertType, "newest first")

	active, total, err := svc.ListAlerts(&AlertFilter{DataSourceID: uptr(1), Status: sptr("active")})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, active, 2)

	typed, _, err := svc.ListAlerts(&AlertFilter{AlertType: sptr("null_rate"), Severity: sptr("warning")})
	require.NoError(t, err)
	require.Len(t, typed, 2)

	byField, _, err := svc.ListAlerts(&AlertFilter{FieldID: uptr(110)})
	require.NoError(t, err)
	require.Len(t, byField, 1)

	dated, total, err := svc.ListAlerts(&AlertFilter{StartDate: sptr("2026-05-02"), EndDate: sptr("2026-05-03")})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, dated, 2)
}

func TestAlertService_ListAlerts_Pagination(t *testing.T) {
	db := newTestDB(t)
	seedAlerts(t, db)
	svc := NewAlertService(db)

	f := &AlertFilter{Limit: 2, Offset: 3}
	page, total, err := svc.ListAlerts(f)
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
	require.Len(t, page, 1)

	f = &AlertFilter{Limit: 1000, Offset: -4}
	_, _, err = svc.ListAlerts(f)
	require.NoError(t, err)
	require.Equal(t, 200, f.Limit)
	require.Equal(t, 0, f.Offset)
}

func TestAlertService_ListAlerts_BadDate(t *testing.T) {
	svc := NewAlertService(newTestDB(t))
	_, _, err := svc.ListAlerts(&AlertFilter{StartDate: sptr("yesterday")})
	require.Error(t, err)
}

func TestAlertService_GetAlert(t *testing.T) {
	db := newTestDB(t)
	seedAlerts(t, db)
	svc := NewAlertService(db)

	var first Alert
	require.NoError(t, db.Order("id").First(&first).Error)

	got, err := svc.GetAlert(first.GlobalID)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	_, err = svc.GetAlert("missing")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}
