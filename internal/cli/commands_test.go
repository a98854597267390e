package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/store"
	"github.com/roach88/converge/internal/synchronizer"
	"github.com/roach88/converge/internal/testutil"
)

func TestInit_WritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "converge.yaml")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "registry: registry")
	assert.Contains(t, string(content), "max_rounds: 10")

	_, err = execute(t, "init", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSync_ReconcilesEverything(t *testing.T) {
	f := newFixture(t)
	f.shop(t)

	out, err := execute(t, "sync", "--config", f.configFile, "--format", "json")
	require.NoError(t, err, out)

	var res SyncResult
	assert.Equal(t, "ok", decode(t, out, &res))
	require.Len(t, res.Reports, 5)

	names := make([]string, len(res.Reports))
	for i, rep := range res.Reports {
		names[i] = rep.Synchronizer
		assert.Equal(t, store.StateSuccessful, rep.State, rep.Synchronizer)
	}
	assert.Equal(t, []string{"publisher", "extensionpoints", "extensions", "datastructures", "migrations"}, names)

	target := openTarget(t, f.cfg.TargetDatabase)
	assert.Equal(t, 1, count(t, target, "customers"), "migration ran after its tables were deployed")
	assert.Equal(t, 0, count(t, target, "orders"))

	published, err := os.ReadFile(filepath.Join(f.registry, "docs", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Shop\n", string(published))
}

func TestSync_SecondRunChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.shop(t)

	_, err := execute(t, "sync", "--config", f.configFile)
	require.NoError(t, err)

	out, err := execute(t, "sync", "--config", f.configFile, "--format", "json")
	require.NoError(t, err, out)

	var res SyncResult
	decode(t, out, &res)
	for _, rep := range res.Reports {
		assert.Equal(t, store.StateSuccessful, rep.State, rep.Synchronizer)
		assert.Zero(t, rep.Transitions(), rep.Synchronizer)
	}

	target := openTarget(t, f.cfg.TargetDatabase)
	assert.Equal(t, 1, count(t, target, "customers"))
}

func TestSync_OneSynchronizer(t *testing.T) {
	f := newFixture(t)
	f.shop(t)

	out, err := execute(t, "sync", "extensionpoints", "--config", f.configFile, "--format", "json")
	require.NoError(t, err, out)

	var res SyncResult
	decode(t, out, &res)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "extensionpoints", res.Reports[0].Synchronizer)
	assert.Equal(t, 1, res.Reports[0].Count(artefact.OutcomeCreated))
}

func TestSync_UnknownSynchronizer(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "sync", "nope", "--config", f.configFile)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown synchronizer "nope"`)
}

func TestSync_FailedMigrationExitsWithFailure(t *testing.T) {
	f := newFixture(t)
	f.put(t, "tables/customers.table", `{"name":"customers","columns":[{"name":"id","type":"INTEGER","primaryKey":true}]}`)
	f.put(t, "app/v1.migrate", `{"project":"app","major":1,"minor":0,"micro":0,"handler":"/app/v1.sql"}`)
	f.put(t, "app/v1.sql", `INSERT INTO missing_table VALUES (1);`)

	out, err := execute(t, "sync", "--config", f.configFile)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "migrations: FAILED")
	assert.Contains(t, out, "post-process")
}

func TestSync_MissingConfig(t *testing.T) {
	_, err := execute(t, "sync", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatus_Golden(t *testing.T) {
	f := newFixture(t)
	f.shop(t)

	clock := testutil.FixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	app, err := OpenApp(f.cfg, store.WithClock(clock.Now))
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Runner.RunAll(t.Context(), synchronizer.Forced)
	require.NoError(t, err)

	rep, err := CollectStatus(t.Context(), app.Store, app.Kinds)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rep.RenderText(&buf))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "status", buf.Bytes())
}

func TestStatus_Empty(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "status", "--config", f.configFile)
	require.NoError(t, err)
	assert.Contains(t, out, "(none have run)")
	assert.Contains(t, out, "(no project migrated)")
	assert.NotContains(t, out, "PUBLICATIONS")
}

func TestStatus_JSON(t *testing.T) {
	f := newFixture(t)
	f.shop(t)
	_, err := execute(t, "sync", "--config", f.configFile)
	require.NoError(t, err)

	out, err := execute(t, "status", "--config", f.configFile, "--format", "json")
	require.NoError(t, err)

	var rep StatusReport
	assert.Equal(t, "ok", decode(t, out, &rep))
	assert.Len(t, rep.Synchronizers, 5)
	require.Len(t, rep.Migrations, 1)
	assert.Equal(t, "1.0.0", rep.Migrations[0].Version())
	require.Len(t, rep.Publications, 1)
	assert.Equal(t, "/docs/readme.md", rep.Publications[0].Target)
}

func TestOrder_Declarations(t *testing.T) {
	f := newFixture(t)
	f.shop(t)

	out, err := execute(t, "order", "--config", f.configFile, "--format", "json")
	require.NoError(t, err, out)

	var res OrderResult
	decode(t, out, &res)
	assert.Equal(t, []string{"customers", "orders"}, res.InsertOrder)
	assert.Equal(t, []string{"orders", "customers"}, res.DeleteOrder)
}

func TestOrder_CycleExitsWithFailure(t *testing.T) {
	f := newFixture(t)
	f.put(t, "a.table", `{"name":"a","columns":[{"name":"b_id","type":"INTEGER","references":{"table":"b","column":"id"}}]}`)
	f.put(t, "b.table", `{"name":"b","columns":[{"name":"a_id","type":"INTEGER","references":{"table":"a","column":"id"}}]}`)

	out, err := execute(t, "order", "--config", f.configFile)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestOrder_Database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db := openTarget(t, path)
	_, err := db.Exec(`CREATE TABLE lines (id INTEGER PRIMARY KEY, invoice INTEGER REFERENCES invoices(id))`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE invoices (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	out, err := execute(t, "order", "--database", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1. invoices")
	assert.Contains(t, out, "2. lines")
}

func TestOrder_MissingDatabase(t *testing.T) {
	_, err := execute(t, "order", "--database", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTransfer_CopiesTables(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.db")
	targetPath := filepath.Join(dir, "target.db")

	source := openTarget(t, sourcePath)
	for _, stmt := range []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer INTEGER REFERENCES customers(id))`,
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO customers VALUES (1, 'ada'), (2, 'grace')`,
		`INSERT INTO orders VALUES (10, 1), (11, 2), (12, 2)`,
	} {
		_, err := source.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	out, err := execute(t, "transfer", "--source", sourcePath, "--target", targetPath, "--batch-size", "2", "--format", "json")
	require.NoError(t, err, out)

	var res TransferResult
	decode(t, out, &res)
	assert.Equal(t, []string{"customers", "orders"}, res.Order)
	assert.Equal(t, map[string]int{"customers": 2, "orders": 3}, res.Rows)
	assert.False(t, res.Stopped)

	target := openTarget(t, targetPath)
	assert.Equal(t, 3, count(t, target, "orders"))
}

func TestTransfer_RequiresSource(t *testing.T) {
	_, err := execute(t, "transfer", "--target", filepath.Join(t.TempDir(), "t.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
}

func TestServe_RunsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	f.shop(t)

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", f.configFile})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "converge is running")

	target := openTarget(t, f.cfg.TargetDatabase)
	assert.Equal(t, 1, count(t, target, "customers"), "startup run reconciles the registry")
}
