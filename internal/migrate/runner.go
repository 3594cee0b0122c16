package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/dbport/internal/adapter"
	sqliteadapter "github.com/untoldecay/dbport/internal/adapter/sqlite"
	"github.com/untoldecay/dbport/internal/audit"
	"github.com/untoldecay/dbport/internal/bundle"
	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/redact"
	"github.com/untoldecay/dbport/internal/routine"
	"github.com/untoldecay/dbport/internal/validation"
)

// OutputMode selects where artifacts go.
type OutputMode string

const (
	OutputDB    OutputMode = "db"
	OutputFiles OutputMode = "files"
	OutputBoth  OutputMode = "both"
)

// Options is everything a run needs. The CLI fills it from flags and the
// config layer; nothing below this point reads global state.
type Options struct {
	SourceURL string
	TargetURL string
	// TargetDir is the legacy mode: a directory holding a SQLite store
	// file. Mutually exclusive with TargetURL.
	TargetDir string

	OutputMode OutputMode
	OutputDir  string
	Tables     []string
	BatchSize  int
	MaxRetries int
	Parallel   int
	// DDLTimeout bounds each CREATE TABLE; BatchTimeout bounds each batch
	// transaction including retries' individual attempts.
	DDLTimeout     time.Duration
	BatchTimeout   time.Duration
	CleanOnFailure bool
	DryRun         bool
	CheckpointFile string

	RoutinesMode routine.Mode
}

// withDefaults fills unset knobs.
func (o Options) withDefaults() Options {
	if o.OutputMode == "" {
		o.OutputMode = OutputDB
	}
	if o.OutputDir == "" {
		o.OutputDir = "./migration_artifacts"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RoutinesMode == "" {
		o.RoutinesMode = routine.ModeNone
	}
	if o.DDLTimeout <= 0 {
		o.DDLTimeout = 30 * time.Second
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 5 * time.Minute
	}
	return o
}

func (o Options) validate() error {
	if o.SourceURL == "" {
		return fmt.Errorf("%w: --source is required", ErrConfiguration)
	}
	if (o.OutputMode == OutputDB || o.OutputMode == OutputBoth) && o.TargetURL == "" && o.TargetDir == "" {
		return fmt.Errorf("%w: either --target or --target-dir is required when output mode is %q", ErrConfiguration, o.OutputMode)
	}
	switch o.OutputMode {
	case OutputDB, OutputFiles, OutputBoth:
	default:
		return fmt.Errorf("%w: unknown output mode %q", ErrConfiguration, o.OutputMode)
	}
	return nil
}

// TableStat is one table's contribution to the run report.
type TableStat struct {
	Name    string `json:"name"`
	Columns int    `json:"columns"`
	Rows    int64  `json:"rows"`
}

// Result is what a run hands back to the CLI.
type Result struct {
	RunID      string
	BundlePath string
	Status     bundle.Status
	DryRun     bool

	Tables    []TableStat
	TotalRows int64
	Warnings  []string
	PlanOrder []string

	Report   *validation.Report
	Routines []routine.Result
	Triggers []*ir.Trigger

	Duration time.Duration
}

// Runner executes one migration. It exclusively owns the schema IR for
// the lifetime of the run; adapters are owned here too and closed on
// every exit path.
type Runner struct {
	opts Options

	source adapter.Adapter
	target adapter.Adapter

	b              *bundle.Bundle
	log            *slog.Logger
	logCloser      io.Closer
	auditor        *audit.Generator
	checkpointPath string

	schema        *ir.Schema
	createdTables []string
	limitations   validation.Limitations
}

// New validates options and builds a runner.
func New(opts Options) (*Runner, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Runner{opts: opts}, nil
}

// redactedErr is the one place errors are stringified for logs.
func redactedErr(err error) string { return redact.Error(err) }

// redactingWriter masks credentials in every log line at the boundary.
type redactingWriter struct{ w io.Writer }

func (rw redactingWriter) Write(p []byte) (int, error) {
	if _, err := rw.w.Write([]byte(redact.String(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (r *Runner) setupLogging() {
	lj := &lumberjack.Logger{
		Filename:   r.b.LogPath(),
		MaxSize:    20, // MB
		MaxBackups: 3,
	}
	r.logCloser = lj
	handler := slog.NewTextHandler(redactingWriter{lj}, &slog.HandlerOptions{Level: slog.LevelInfo})
	r.log = slog.New(handler)
}

// Run executes a fresh migration end to end.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	runID := bundle.NewRunID(time.Now())
	b, err := bundle.Create(r.opts.OutputDir, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return r.execute(ctx, b, &Checkpoint{})
}

// Resume reopens an existing run bundle and continues from its
// checkpoint. Completed tables are skipped; the in-flight table resumes
// at its committed offset; any other partial table is truncated and
// recopied so the outcome matches an uninterrupted run.
func (r *Runner) Resume(ctx context.Context, idOrPath string) (*Result, error) {
	b, err := bundle.Open(r.opts.OutputDir, idOrPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cp, err := LoadCheckpoint(b.CheckpointPath())
	if err != nil {
		b.Release()
		return nil, err
	}
	return r.execute(ctx, b, cp)
}

// DryRun introspects and preflights without writing anything to the
// target.
func (r *Runner) DryRun(ctx context.Context) (*Result, error) {
	r.opts.DryRun = true
	return r.Run(ctx)
}

func (r *Runner) execute(ctx context.Context, b *bundle.Bundle, cp *Checkpoint) (result *Result, err error) {
	started := time.Now()
	r.b = b
	r.checkpointPath = b.CheckpointPath()
	if r.opts.CheckpointFile != "" {
		r.checkpointPath = r.opts.CheckpointFile
	}
	r.setupLogging()

	result = &Result{RunID: b.RunID, BundlePath: b.Root, DryRun: r.opts.DryRun, Status: bundle.StatusRunning}

	targetLabel := r.opts.TargetURL
	if targetLabel == "" {
		targetLabel = r.opts.TargetDir
	}
	r.auditor = audit.NewGenerator(b.RunID, r.opts.SourceURL, targetLabel, filepath.Join(b.Root, "logs"))

	manifest := &bundle.Manifest{
		StartedAt:  started.UTC().Format(time.RFC3339),
		OutputMode: string(r.opts.OutputMode),
		DryRun:     r.opts.DryRun,
		Status:     bundle.StatusRunning,
	}

	// The manifest is written exactly once, last, on every exit path —
	// including failures — so the bundle is always self-describing.
	defer func() {
		result.Duration = time.Since(started)
		manifest.FinishedAt = time.Now().UTC().Format(time.RFC3339)
		switch {
		case err == nil:
			manifest.Status = bundle.StatusSucceeded
		case errors.Is(err, ErrCancelled) || errors.Is(ctx.Err(), context.Canceled):
			manifest.Status = bundle.StatusCancelled
		default:
			manifest.Status = bundle.StatusFailed
		}
		if err != nil {
			manifest.Error = redactedErr(err)
		}
		result.Status = manifest.Status

		r.closeAdapters()
		if r.auditor != nil {
			_ = r.b.WriteReport("audit_report.md", []byte(r.auditor.Report()))
		}
		if werr := b.WriteManifest(manifest); werr != nil && err == nil {
			err = werr
		}
		if r.logCloser != nil {
			r.logCloser.Close()
		}
		b.Release()
	}()

	r.log.Info("starting run", "run_id", b.RunID, "output_mode", r.opts.OutputMode, "dry_run", r.opts.DryRun)

	// 2. Connect.
	if err = r.connect(ctx); err != nil {
		return result, err
	}
	manifest.SourceConnector = r.source.Dialect()
	manifest.TargetConnector = r.target.Dialect()

	// 3. Introspect.
	if r.schema, err = r.introspect(ctx); err != nil {
		return result, err
	}

	// 4–5. Preflight and plan.
	pre := preflight(r.schema, r.source.Dialect(), r.target.Dialect())
	for _, w := range pre.Warnings {
		r.log.Warn(w)
		r.auditor.LogWarning(w)
	}
	for _, lim := range pre.Limitations {
		r.limitations.Add(lim)
	}
	result.Warnings = pre.Warnings
	result.PlanOrder = pre.Plan.Order

	for _, name := range pre.Plan.Order {
		t := r.schema.Tables[name]
		rows, cerr := r.source.RowCount(ctx, name)
		if cerr != nil {
			rows = -1
		}
		result.Tables = append(result.Tables, TableStat{Name: name, Columns: len(t.Columns), Rows: rows})
		if rows > 0 {
			result.TotalRows += rows
		}
	}

	if r.opts.DryRun {
		r.log.Info("dry run complete", "tables", len(result.Tables))
		r.writeLimitationArtifacts()
		return result, nil
	}

	// 6–7. DDL and data.
	if r.opts.OutputMode == OutputFiles || r.opts.OutputMode == OutputBoth {
		if err = r.writeFileArtifacts(ctx, pre.Plan); err != nil {
			return result, err
		}
	}
	if r.opts.OutputMode == OutputDB || r.opts.OutputMode == OutputBoth {
		if err = r.migrateToTarget(ctx, pre.Plan, cp); err != nil {
			if r.opts.CleanOnFailure {
				r.cleanup()
			}
			return result, err
		}
	}

	// 8. Post-migration SQL (informational).
	postSQL := buildPostMigrationSQL(r.target.Dialect(), r.schema, pre.Plan.Order, r.target.Quote)
	if werr := os.WriteFile(r.b.PostMigrationPath(), []byte(postSQL), 0o600); werr != nil {
		r.log.Warn("failed to write post_migration.sql", "error", redactedErr(werr))
	}

	// 9. Routines and triggers.
	result.Routines, result.Triggers = r.processRoutines(ctx)

	// 10. Validate.
	if r.opts.OutputMode == OutputDB || r.opts.OutputMode == OutputBoth {
		report, verr := r.validate(ctx, b.RunID)
		if verr != nil {
			r.log.Warn("validation failed to run", "error", redactedErr(verr))
		} else {
			result.Report = report
			manifest.DatasetFingerprint = &report.TargetDataset
		}
	}
	r.writeLimitationArtifacts()

	r.log.Info("run finished", "tables", len(result.Tables), "rows", result.TotalRows)
	return result, nil
}

func (r *Runner) connect(ctx context.Context) error {
	src, err := adapter.OpenURL(ctx, r.opts.SourceURL)
	if err != nil {
		return fmt.Errorf("%w: source: %s", ErrConnection, redactedErr(err))
	}
	r.source = src
	r.log.Info("connected to source", "dialect", src.Dialect())

	if r.opts.TargetURL != "" {
		tgt, err := adapter.OpenURL(ctx, r.opts.TargetURL)
		if err != nil {
			return fmt.Errorf("%w: target: %s", ErrConnection, redactedErr(err))
		}
		r.target = tgt
	} else if r.opts.TargetDir != "" {
		// Legacy mode: SQLite store file inside a directory.
		if err := os.MkdirAll(r.opts.TargetDir, 0o700); err != nil {
			return fmt.Errorf("%w: target dir: %v", ErrConfiguration, err)
		}
		tgt := sqliteadapter.NewAtPath(filepath.Join(r.opts.TargetDir, "store.db"))
		if err := tgt.Open(ctx); err != nil {
			return fmt.Errorf("%w: target: %s", ErrConnection, redactedErr(err))
		}
		r.target = tgt
	} else {
		// Files-only mode still needs a target dialect for type mapping;
		// an in-memory SQLite store provides it.
		tgt := sqliteadapter.NewAtPath(":memory:")
		if err := tgt.Open(ctx); err != nil {
			return fmt.Errorf("%w: target: %s", ErrConnection, redactedErr(err))
		}
		r.target = tgt
	}
	r.log.Info("connected to target", "dialect", r.target.Dialect())
	return nil
}

func (r *Runner) closeAdapters() {
	if r.source != nil {
		if cerr := r.source.Close(); cerr != nil {
			r.log.Warn("failed to close source", "error", redactedErr(cerr))
		}
		r.source = nil
	}
	if r.target != nil {
		if cerr := r.target.Close(); cerr != nil {
			r.log.Warn("failed to close target", "error", redactedErr(cerr))
		}
		r.target = nil
	}
}

// introspect builds the schema IR for the requested scope. A failing
// table is recorded as a limitation and skipped; introspection only
// fails outright when nothing is readable.
func (r *Runner) introspect(ctx context.Context) (*ir.Schema, error) {
	names := r.opts.Tables
	if len(names) == 0 {
		var err error
		names, err = r.source.ListTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrIntrospection, redactedErr(err))
		}
	}
	schema := ir.NewSchema()
	var lastErr error
	for _, name := range names {
		t, err := r.source.TableSchema(ctx, name)
		if err != nil {
			lastErr = err
			r.log.Warn("failed to introspect table", "table", name, "error", redactedErr(err))
			r.limitations.Add(validation.Limitation{
				Category:    validation.CategoryUnsupportedObject,
				ObjectType:  "table",
				ObjectName:  name,
				Description: "Introspection failed: " + redactedErr(err),
				Severity:    validation.SeverityError,
			})
			continue
		}
		schema.AddTable(t)
	}
	if len(schema.Tables) == 0 && lastErr != nil {
		return nil, fmt.Errorf("%w: no tables introspectable: %s", ErrIntrospection, redactedErr(lastErr))
	}

	// Views (L2) are captured for the record; emission stays out of
	// scope and is surfaced as a limitation per view.
	if vl, ok := r.source.(adapter.ViewLister); ok {
		views, err := vl.ListViews(ctx)
		if err != nil {
			r.log.Warn("view introspection failed", "error", redactedErr(err))
			r.limitations.Add(validation.Limitation{
				Category:    validation.CategoryUnsupportedObject,
				ObjectType:  "view",
				ObjectName:  "*",
				Description: "View introspection failed: " + redactedErr(err),
				Severity:    validation.SeverityWarning,
			})
		} else {
			schema.Views = views
			for name := range views {
				r.limitations.Add(validation.Limitation{
					Category:    validation.CategoryManualStep,
					ObjectType:  "view",
					ObjectName:  name,
					Description: "View definitions are not migrated; recreate on the target",
					Severity:    validation.SeverityInfo,
				})
			}
		}
	}
	return schema, nil
}

// migrateToTarget runs DDL then data copy in plan order, then the FK
// second pass for tables on cycles.
func (r *Runner) migrateToTarget(ctx context.Context, plan *Plan, cp *Checkpoint) error {
	// DDL pass. Tables on FK cycles are created without FKs when the
	// target can add them later; targets that cannot (sqlite) get the
	// FKs inline and resolve them lazily.
	deferFKs := r.target.SupportsDeferredForeignKeys()
	for _, name := range plan.Order {
		t := r.schema.Tables[name]
		if cp.Completed(name) {
			continue
		}
		withFKs := !plan.CyclicTables[name] || !deferFKs
		ddlCtx, cancel := context.WithTimeout(ctx, r.opts.DDLTimeout)
		err := r.target.CreateTable(ddlCtx, t, withFKs)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %s: %s", ErrSchemaEmission, name, redactedErr(err))
		}
		r.createdTables = append(r.createdTables, name)
		r.log.Info("created table", "table", name, "with_fks", withFKs)
	}

	// Data pass. Parallel mode needs private adapter pairs per worker,
	// which requires both sides to be URL-addressable.
	if r.opts.Parallel > 1 && r.opts.SourceURL != "" && r.opts.TargetURL != "" {
		if err := r.copyTablesParallel(ctx, plan, cp); err != nil {
			return err
		}
		return r.secondPassFKs(ctx, plan)
	}
	for _, name := range plan.Order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		t := r.schema.Tables[name]
		if cp.Completed(name) {
			r.log.Info("skipping completed table", "table", name)
			continue
		}
		// A table interrupted without being the recorded cursor position
		// may hold committed batches from a parallel run; recopy cleanly.
		if cp.CurrentTable != name && cp.CurrentOffset == 0 {
			if terr := r.target.TruncateTable(ctx, name); terr != nil && !errors.Is(terr, adapter.ErrUnsupported) {
				r.log.Warn("failed to clear table before copy", "table", name, "error", redactedErr(terr))
			}
		}
		start := time.Now()
		rows, err := r.copyTable(ctx, t, cp)
		if err != nil {
			r.auditor.LogConversion(name, rows, "Failed", time.Since(start))
			return err
		}
		r.auditor.LogConversion(name, rows, "Success", time.Since(start))
	}

	return r.secondPassFKs(ctx, plan)
}

// secondPassFKs applies the withheld FK constraints for tables on
// cycles, after their data has landed.
func (r *Runner) secondPassFKs(ctx context.Context, plan *Plan) error {
	if !r.target.SupportsDeferredForeignKeys() {
		return nil
	}
	for _, name := range plan.Order {
		if !plan.CyclicTables[name] {
			continue
		}
		if err := r.target.AddForeignKeys(ctx, r.schema.Tables[name]); err != nil {
			r.log.Warn("failed to add deferred foreign keys", "table", name, "error", redactedErr(err))
			r.limitations.Add(validation.Limitation{
				Category:    validation.CategoryManualStep,
				ObjectType:  "table",
				ObjectName:  name,
				Description: "Foreign keys on this table must be added manually: " + redactedErr(err),
				Severity:    validation.SeverityWarning,
			})
		} else {
			r.log.Info("added deferred foreign keys", "table", name)
		}
	}
	return nil
}

// cleanup drops every table created in this run, in reverse creation
// order. Best-effort: a failing drop is logged and the rest continue.
func (r *Runner) cleanup() {
	ctx := context.Background()
	r.log.Warn("cleaning up created tables", "count", len(r.createdTables))
	for i := len(r.createdTables) - 1; i >= 0; i-- {
		name := r.createdTables[i]
		if err := r.target.DropTable(ctx, name); err != nil {
			r.log.Error("failed to drop table during cleanup", "table", name, "error", redactedErr(err))
			continue
		}
		r.log.Info("dropped table", "table", name)
	}
}

// validate invokes the report generator against both adapters and writes
// the report artifacts.
func (r *Runner) validate(ctx context.Context, runID string) (*validation.Report, error) {
	report, err := validation.Compare(ctx, r.source, r.target, runID, validation.Options{
		Tables:           r.schema.TableNames(),
		CheckConstraints: true,
		BatchSize:        r.opts.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	// Fold the runner's accumulated limitations into the report.
	for _, lim := range r.limitations.Sorted().UnsupportedObjects {
		report.Limitations.Add(lim)
	}
	for _, lim := range r.limitations.Sorted().LossyMappings {
		report.Limitations.Add(lim)
	}
	for _, lim := range r.limitations.Sorted().BehaviorDifferences {
		report.Limitations.Add(lim)
	}
	for _, lim := range r.limitations.Sorted().ManualSteps {
		report.Limitations.Add(lim)
	}
	r.limitations = report.Limitations

	if err := bundle.WriteJSON(r.b.ReportPath("validation_summary.json"), report); err != nil {
		return nil, err
	}
	if err := r.b.WriteReport("validation_report.txt", []byte(report.Text())); err != nil {
		return nil, err
	}
	return report, nil
}

// writeLimitationArtifacts persists limitations.{json,txt} from whatever
// has accumulated so far.
func (r *Runner) writeLimitationArtifacts() {
	if err := bundle.WriteJSON(r.b.ReportPath("limitations.json"), r.limitations); err != nil {
		r.log.Warn("failed to write limitations.json", "error", redactedErr(err))
	}
	if err := r.b.WriteReport("limitations.txt", []byte(r.limitations.Text())); err != nil {
		r.log.Warn("failed to write limitations.txt", "error", redactedErr(err))
	}
}
