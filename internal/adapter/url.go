package adapter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/untoldecay/dbport/internal/typemap"
	"github.com/untoldecay/dbport/internal/utils"
)

// Config is a parsed connection URL. Password is kept here in the clear;
// it never leaves the adapter layer unredacted.
type Config struct {
	Dialect  string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Path is the filesystem path for sqlite, duckdb, and file sources.
	Path   string
	Params map[string]string
	// RawURL preserves the original URL for audit output (redacted before
	// display).
	RawURL string
}

// defaultPorts per dialect, applied when the URL omits one.
var defaultPorts = map[string]int{
	"postgres": 5432,
	"mysql":    3306,
	"oracle":   1521,
	"mssql":    1433,
	"hana":     30015,
}

// ParseURL parses <dialect>://[user[:pass]@]host[:port]/database[?params]
// and file:///path for file-based sources. Unknown dialects produce an
// error naming the nearest recognized dialect.
func ParseURL(raw string) (*Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable source URL: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("source URL %q has no dialect scheme", raw)
	}

	scheme := strings.SplitN(u.Scheme, "+", 2)[0]
	dialect := typemap.Normalize(scheme)
	if !typemap.Known(dialect) {
		return nil, fmt.Errorf("unsupported dialect %q%s", scheme, suggestDialect(scheme))
	}

	cfg := &Config{
		Dialect: dialect,
		RawURL:  raw,
		Params:  map[string]string{},
	}
	for key, vals := range u.Query() {
		if len(vals) > 0 {
			cfg.Params[key] = vals[0]
		}
	}

	switch dialect {
	case "sqlite", "duckdb", "file":
		path := u.Path
		if u.Host != "" {
			// sqlite://relative/path parses the first segment as host.
			path = u.Host + path
		}
		path = strings.Replace(path, "//", "/", 1)
		if path == "" {
			return nil, fmt.Errorf("%s URL %q has no path", dialect, raw)
		}
		cfg.Path = path
		return cfg, nil
	}

	cfg.Host = u.Hostname()
	if cfg.Host == "" {
		return nil, fmt.Errorf("%s URL has no host", dialect)
	}
	cfg.Port = defaultPorts[dialect]
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		cfg.Port = n
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	cfg.Database = strings.TrimPrefix(u.Path, "/")
	if cfg.Database == "" {
		return nil, fmt.Errorf("%s URL has no database name", dialect)
	}
	return cfg, nil
}

// suggestDialect offers the closest known dialect for a typo, e.g.
// "postgers" -> postgres.
func suggestDialect(scheme string) string {
	best := ""
	bestDist := 3 // only suggest for small edit distances
	for _, d := range typemap.Dialects() {
		if dist := utils.ComputeDistance(scheme, d); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	if best == "" {
		return fmt.Sprintf(" (recognized: %s)", strings.Join(typemap.Dialects(), ", "))
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}
