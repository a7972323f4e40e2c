package fixtures

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultKeyColumn = "id"

// DataFile is a unit read from a TOML data file:
//
//	name = "products"
//	depends_on = ["categories"]
//	key = "id"
//
//	[[rows]]
//	table = "products"
//	ref = "widget"
//	values = { name = "Widget", category_id = "@tools" }
//
// A string value "@ref" is replaced by the key column of reference ref, and
// "@ref.column" by any other column of it. A leading "@@" stands for a
// literal "@".
type DataFile struct {
	name   string
	path   string
	deps   []string
	key    string
	rows   []dataRow
	tables []string
}

type dataFile struct {
	Name      string    `toml:"name"`
	DependsOn []string  `toml:"depends_on"`
	Key       *string   `toml:"key"`
	Rows      []dataRow `toml:"rows"`
}

type dataRow struct {
	Table  string         `toml:"table"`
	Ref    string         `toml:"ref"`
	Key    *string        `toml:"key"`
	Values map[string]any `toml:"values"`
}

// ParseDataFile reads a TOML data file.
func ParseDataFile(path string) (*DataFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture file: %w", err)
	}

	var raw dataFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing fixture file %s: %w", path, err)
	}

	f := &DataFile{
		name: raw.Name,
		path: path,
		deps: raw.DependsOn,
		key:  defaultKeyColumn,
		rows: raw.Rows,
	}
	if f.name == "" {
		f.name = baseName(path)
	}
	if raw.Key != nil {
		f.key = *raw.Key
	}

	seen := make(map[string]bool)
	for i, row := range raw.Rows {
		if row.Table == "" {
			return nil, fmt.Errorf("parsing fixture file %s: rows[%d]: table is required", path, i)
		}
		if !seen[row.Table] {
			seen[row.Table] = true
			f.tables = append(f.tables, row.Table)
		}
	}
	return f, nil
}

func (f *DataFile) Name() string           { return f.name }
func (f *DataFile) Dependencies() []string { return f.deps }
func (f *DataFile) Source() string         { return f.path }
func (f *DataFile) Tables() []string       { return f.tables }

func (f *DataFile) Load(ctx context.Context, l Loader) error {
	for i, row := range f.rows {
		values := make(map[string]any, len(row.Values))
		for col, v := range row.Values {
			resolved, err := f.resolveValue(l, v)
			if err != nil {
				return fmt.Errorf("%s rows[%d].%s: %w", f.name, i, col, err)
			}
			values[col] = resolved
		}

		key := f.key
		if row.Key != nil {
			key = *row.Key
		}
		e, err := l.Insert(ctx, row.Table, key, values)
		if err != nil {
			return fmt.Errorf("%s rows[%d]: %w", f.name, i, err)
		}
		if row.Ref != "" {
			if err := l.AddReference(row.Ref, e); err != nil {
				return fmt.Errorf("%s rows[%d]: %w", f.name, i, err)
			}
		}
	}
	return nil
}

func (f *DataFile) resolveValue(l Loader, v any) (any, error) {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, "@@") {
			return x[1:], nil
		}
		if !strings.HasPrefix(x, "@") {
			return x, nil
		}
		name, col := x[1:], f.key
		if i := strings.LastIndexByte(name, '.'); i > 0 {
			name, col = name[:i], name[i+1:]
		}
		e, err := l.Reference(name)
		if err != nil {
			return nil, err
		}
		val, ok := e[col]
		if !ok {
			return nil, fmt.Errorf("reference %q has no column %q", name, col)
		}
		return val, nil
	case toml.LocalDate:
		return x.String(), nil
	case toml.LocalTime:
		return x.String(), nil
	case toml.LocalDateTime:
		return x.String(), nil
	default:
		return v, nil
	}
}

// SQLFile is a unit that executes a SQL script. Leading comment headers
// declare its metadata:
//
//	-- name: seed_users
//	-- depends: roles, teams
//	-- tables: users
type SQLFile struct {
	name   string
	path   string
	deps   []string
	tables []string
	body   string
}

// ParseSQLFile reads a SQL fixture file.
func ParseSQLFile(path string) (*SQLFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture file: %w", err)
	}

	f := &SQLFile{name: baseName(path), path: path, body: string(data)}
	sc := bufio.NewScanner(strings.NewReader(f.body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "--")), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			if value != "" {
				f.name = value
			}
		case "depends":
			f.deps = append(f.deps, splitList(value)...)
		case "tables":
			f.tables = append(f.tables, splitList(value)...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning fixture file %s: %w", path, err)
	}
	return f, nil
}

func (f *SQLFile) Name() string           { return f.name }
func (f *SQLFile) Dependencies() []string { return f.deps }
func (f *SQLFile) Source() string         { return f.path }
func (f *SQLFile) Tables() []string       { return f.tables }

func (f *SQLFile) Load(ctx context.Context, l Loader) error {
	if strings.TrimSpace(f.body) == "" {
		return nil
	}
	return l.Exec(ctx, f.body)
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
