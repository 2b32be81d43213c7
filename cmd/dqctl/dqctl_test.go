package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dq-engine/config"
	"dq-engine/internal/app"
	"dq-engine/internal/catalog"
	"dq-engine/internal/logging"
	"dq-engine/internal/pipeline"

	"github.com/stretchr/testify/require"
)

func testFactory(t *testing.T) appFactory {
	t.Helper()
	cfg := config.Config{
		DBDriver:          "sqlite",
		SQLitePath:        filepath.Join(t.TempDir(), "dq.db"),
		MaxConcurrentRuns: 1,
	}
	return func() (*app.App, error) {
		return app.New(cfg, logging.Discard())
	}
}

func runCLI(t *testing.T, open appFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func seedFileSource(t *testing.T, open appFactory, csv string) uint {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"), []byte(csv), 0o644))

	var id uint
	require.NoError(t, withApp(open, func(a *app.App) error {
		ds, err := a.Catalog.CreateDataSource(catalog.CreateDataSourceInput{
			Name: "shop", Type: "file", ConnectionInfo: map[string]any{"path": dir},
		})
		if err != nil {
			return err
		}
		id = ds.ID
		return nil
	}))
	return id
}

func TestMigrateCmd(t *testing.T) {
	out, err := runCLI(t, testFactory(t), "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "migrations applied")
}

func TestAPIKeyCreateCmd(t *testing.T) {
	open := testFactory(t)

	out, err := runCLI(t, open, "apikey", "create", "--name", "ci")
	require.NoError(t, err)
	require.Contains(t, out, "name: ci")
	require.Contains(t, out, "key:  dq_")

	_, err = runCLI(t, open, "apikey", "create")
	require.ErrorContains(t, err, `required flag(s) "name" not set`)

	out, err = runCLI(t, open, "apikey", "list")
	require.NoError(t, err)
	require.Contains(t, out, `"name": "ci"`)
	require.NotContains(t, out, "$2a$")
}

func TestRunCmd_PrintsResult(t *testing.T) {
	open := testFactory(t)
	id := seedFileSource(t, open, "id,amount\n1,10.5\n2,11\n3,9.75\n")

	out, err := runCLI(t, open, "run", "--source", fmt.Sprint(id), "--date", "2026-06-01")
	require.NoError(t, err)

	var res pipeline.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, pipeline.RunSucceeded, res.Status)
	require.Equal(t, "2026-06-01", res.RunDate.Format("2006-01-02"))
	require.Equal(t, 2, res.FieldsProfiled)
}

func TestRunCmd_FailedRunExitsNonZero(t *testing.T) {
	open := testFactory(t)
	id := seedFileSource(t, open, "id,amount\n1,10.5\n")

	// the directory vanishing makes discovery fail
	require.NoError(t, withApp(open, func(a *app.App) error {
		ds, err := a.Catalog.GetDataSource(id)
		if err != nil {
			return err
		}
		return os.RemoveAll(ds.Descriptor("path"))
	}))

	out, err := runCLI(t, open, "run", "--source", fmt.Sprint(id))
	require.ErrorIs(t, err, errRunFailed)
	require.True(t, strings.Contains(out, `"status": "failed"`), out)
	require.Contains(t, out, `"error_kind": "source_unavailable"`)
}

func TestRunCmd_Errors(t *testing.T) {
	open := testFactory(t)

	_, err := runCLI(t, open, "run", "--source", "999")
	require.ErrorIs(t, err, pipeline.ErrDataSourceNotFound)

	_, err = runCLI(t, open, "run", "--source", "1", "--date", "01/06/2026")
	require.ErrorContains(t, err, "run_date")

	_, err = runCLI(t, open, "run", "--source", "1", "--all")
	require.Error(t, err)
}

func TestRunCmd_All(t *testing.T) {
	open := testFactory(t)
	seedFileSource(t, open, "id\n1\n2\n")

	out, err := runCLI(t, open, "run", "--all")
	require.NoError(t, err)
	var summary pipeline.TickSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Equal(t, pipeline.TickSummary{Started: 1, Succeeded: 1}, summary)
}
