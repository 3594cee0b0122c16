// Package bundle manages the per-run artifact directory: paths, the
// atomic write primitive, file checksums, and the manifest. The manifest
// is written last, exactly once, and exists even for failed runs.
package bundle

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/untoldecay/dbport/internal/fingerprint"
	"github.com/untoldecay/dbport/internal/validation"
)

// Directory and file modes: the bundle can hold credentials and data
// extracts, so nothing in it is group- or world-readable.
const (
	dirMode    fs.FileMode = 0o700
	fileMode   fs.FileMode = 0o600
	runsSubdir             = "runs"
)

// Status is the final state recorded in the manifest.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Manifest is run_manifest.json. Structural changes require a version
// bump of validation.BundleSchemaVersion.
type Manifest struct {
	SchemaVersion      string               `json:"schema_version"`
	RunID              string               `json:"run_id"`
	StartedAt          string               `json:"started_at"`
	FinishedAt         string               `json:"finished_at,omitempty"`
	SourceConnector    string               `json:"source_connector"`
	TargetConnector    string               `json:"target_connector"`
	OutputMode         string               `json:"output_mode"`
	DryRun             bool                 `json:"dry_run,omitempty"`
	Status             Status               `json:"status"`
	Error              string               `json:"error,omitempty"`
	FileChecksums      map[string]string    `json:"file_checksums"`
	DatasetFingerprint *fingerprint.Dataset `json:"dataset_fingerprint,omitempty"`
}

// Bundle is one run's artifact tree.
type Bundle struct {
	RunID string
	Root  string

	lock *flock.Flock
}

// NewRunID allocates a timestamped unique run identifier.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

// Create builds the bundle directory tree under baseDir/runs/<runID> and
// takes an exclusive lock on it.
func Create(baseDir, runID string) (*Bundle, error) {
	root := filepath.Join(baseDir, runsSubdir, runID)
	for _, sub := range []string{"input", "output", filepath.Join("output", "data"), "reports", "logs"} {
		if err := os.MkdirAll(filepath.Join(root, sub), dirMode); err != nil {
			return nil, fmt.Errorf("failed to create bundle directory: %w", err)
		}
	}
	b := &Bundle{RunID: runID, Root: root}
	if err := b.acquireLock(); err != nil {
		return nil, err
	}
	return b, nil
}

// Open attaches to an existing bundle for resume. idOrPath is either a
// run ID under baseDir/runs or a direct path to a bundle directory.
func Open(baseDir, idOrPath string) (*Bundle, error) {
	candidates := []string{
		idOrPath,
		filepath.Join(baseDir, runsSubdir, idOrPath),
	}
	for _, root := range candidates {
		info, err := os.Stat(root)
		if err == nil && info.IsDir() {
			b := &Bundle{RunID: filepath.Base(root), Root: root}
			if err := b.acquireLock(); err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	// Prefix match: users paste truncated run IDs.
	entries, err := os.ReadDir(filepath.Join(baseDir, runsSubdir))
	if err == nil {
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), idOrPath) {
				b := &Bundle{RunID: e.Name(), Root: filepath.Join(baseDir, runsSubdir, e.Name())}
				if err := b.acquireLock(); err != nil {
					return nil, err
				}
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("run %q not found under %s", idOrPath, filepath.Join(baseDir, runsSubdir))
}

func (b *Bundle) acquireLock() error {
	b.lock = flock.New(filepath.Join(b.Root, ".lock"))
	ok, err := b.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock bundle: %w", err)
	}
	if !ok {
		return fmt.Errorf("bundle %s is locked by another process", b.RunID)
	}
	return nil
}

// Release drops the bundle lock.
func (b *Bundle) Release() {
	if b.lock != nil {
		_ = b.lock.Unlock()
	}
}

// Path helpers. All artifact paths go through these so the layout has a
// single source of truth.
func (b *Bundle) ManifestPath() string    { return filepath.Join(b.Root, "run_manifest.json") }
func (b *Bundle) CheckpointPath() string  { return filepath.Join(b.Root, "checkpoint.json") }
func (b *Bundle) LogPath() string         { return filepath.Join(b.Root, "logs", "migration.log") }
func (b *Bundle) InputDir() string        { return filepath.Join(b.Root, "input") }
func (b *Bundle) OutputDir() string       { return filepath.Join(b.Root, "output") }
func (b *Bundle) SchemaSQLPath() string   { return filepath.Join(b.Root, "output", "schema.sql") }
func (b *Bundle) RoutinesSQLPath() string { return filepath.Join(b.Root, "output", "routines.sql") }
func (b *Bundle) PostMigrationPath() string {
	return filepath.Join(b.Root, "output", "post_migration.sql")
}
func (b *Bundle) DataCSVPath(table string) string {
	return filepath.Join(b.Root, "output", "data", table+".csv")
}
func (b *Bundle) ReportsDir() string { return filepath.Join(b.Root, "reports") }
func (b *Bundle) ReportPath(name string) string {
	return filepath.Join(b.Root, "reports", name)
}

// WriteAtomic writes a file via temp-file, fsync, rename so readers never
// observe a torn write. Used for the checkpoint and the manifest.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set temp file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}

// WriteJSON marshals v with sorted keys and indentation and writes it
// atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return WriteAtomic(path, append(data, '\n'))
}

// WriteReport writes a report artifact (non-atomic paths are fine for
// reports; they are written once, before the manifest).
func (b *Bundle) WriteReport(name string, data []byte) error {
	return os.WriteFile(b.ReportPath(name), data, fileMode)
}

// Checksums walks the bundle and returns sha256 sums for every committed
// artifact, keyed by bundle-relative path. The manifest and lock file are
// excluded: the manifest cannot contain its own checksum.
func (b *Bundle) Checksums() (map[string]string, error) {
	sums := map[string]string{}
	err := filepath.WalkDir(b.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(b.Root, path)
		if err != nil {
			return err
		}
		if rel == "run_manifest.json" || rel == ".lock" || strings.HasPrefix(filepath.Base(rel), ".") {
			return nil
		}
		sum, err := fingerprint.FileChecksum(path)
		if err != nil {
			return err
		}
		sums[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to checksum bundle: %w", err)
	}
	return sums, nil
}

// WriteManifest finalizes the bundle: checksums every artifact and writes
// the manifest atomically. Call exactly once, last.
func (b *Bundle) WriteManifest(m *Manifest) error {
	if m.SchemaVersion == "" {
		m.SchemaVersion = validation.BundleSchemaVersion
	}
	m.RunID = b.RunID
	sums, err := b.Checksums()
	if err != nil {
		return err
	}
	m.FileChecksums = sums
	return WriteJSON(b.ManifestPath(), m)
}

// ReadManifest loads an existing manifest, for resume and inspection.
func (b *Bundle) ReadManifest() (*Manifest, error) {
	data, err := os.ReadFile(b.ManifestPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt manifest: %w", err)
	}
	return &m, nil
}

// SortedChecksumPaths returns the checksummed paths in stable order, for
// report rendering.
func (m *Manifest) SortedChecksumPaths() []string {
	paths := make([]string, 0, len(m.FileChecksums))
	for p := range m.FileChecksums {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
