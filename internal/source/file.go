package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dq-engine/internal/catalog"

	"github.com/xuri/excelize/v2"
)

// FileAdapter reads CSV files and xlsx workbooks under the descriptor "path",
// which may name a directory or a single file. A CSV file is one table named
// after the file; each workbook sheet is a table named "<workbook>.<sheet>".
type FileAdapter struct{}

func NewFileAdapter() *FileAdapter { return &FileAdapter{} }

type fileTable struct {
	name  string
	path  string
	sheet string
}

func (a *FileAdapter) Discover(ctx context.Context, ds catalog.DataSource) (*Schema, error) {
	tables, err := a.listTables(ds)
	if err != nil {
		return nil, err
	}

	schema := &Schema{Confident: true}
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return nil, unavailable(ds.Name, t.name, "", err)
		}
		var (
			fields []DiscoveredField
			rows   int
		)
		err := a.withRecords(t, func(next recordReader) error {
			var derr error
			fields, rows, derr = describeRecords(next)
			return derr
		})
		if err != nil {
			return nil, a.classify(ds.Name, t.name, "", err)
		}

		meta := map[string]any{"path": t.path, "format": formatOf(t.path), "sampled_rows": rows}
		if t.sheet != "" {
			meta["sheet"] = t.sheet
		}
		schema.Tables = append(schema.Tables, DiscoveredTable{Name: t.name, Metadata: meta, Fields: fields})
	}
	return schema, nil
}

func (a *FileAdapter) Open(ctx context.Context, ds catalog.DataSource, table, field string) (iter.Seq2[any, error], error) {
	tables, err := a.listTables(ds)
	if err != nil {
		return nil, err
	}
	var target *fileTable
	for i := range tables {
		if tables[i].name == table {
			target = &tables[i]
			break
		}
	}
	if target == nil {
		return nil, malformed(ds.Name, table, field, "table not found", nil)
	}

	if err := a.withRecords(*target, func(next recordReader) error {
		_, err := columnIndex(next, field)
		return err
	}); err != nil {
		return nil, a.classify(ds.Name, table, field, err)
	}

	t := *target
	return func(yield func(any, error) bool) {
		err := a.withRecords(t, func(next recordReader) error {
			idx, err := columnIndex(next, field)
			if err != nil {
				return err
			}
			var stopErr error
			for v, err := range columnValues(next, idx, func(err error) error { return a.classify(ds.Name, table, field, err) }) {
				if err != nil {
					stopErr = err
					break
				}
				if cerr := ctx.Err(); cerr != nil {
					stopErr = unavailable(ds.Name, table, field, cerr)
					break
				}
				if !yield(v, nil) {
					return nil
				}
			}
			return stopErr
		})
		if err != nil {
			yield(nil, a.classify(ds.Name, table, field, err))
		}
	}, nil
}

func (a *FileAdapter) listTables(ds catalog.DataSource) ([]fileTable, error) {
	root := ds.Descriptor("path")
	if root == "" {
		return nil, malformed(ds.Name, "", "", "connection_info.path is required", nil)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, unavailable(ds.Name, "", "", err)
	}

	var paths []string
	if info.IsDir() {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, unavailable(ds.Name, "", "", err)
		}
		for _, e := range entries {
			if e.IsDir() || formatOf(e.Name()) == "" {
				continue
			}
			paths = append(paths, filepath.Join(root, e.Name()))
		}
	} else {
		if formatOf(root) == "" {
			return nil, malformed(ds.Name, "", "", "unsupported file type "+filepath.Ext(root), nil)
		}
		paths = []string{root}
	}
	sort.Strings(paths)

	var tables []fileTable
	for _, p := range paths {
		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if formatOf(p) == "csv" {
			tables = append(tables, fileTable{name: base, path: p})
			continue
		}
		f, err := excelize.OpenFile(p)
		if err != nil {
			return nil, malformed(ds.Name, base, "", "cannot open workbook", err)
		}
		for _, sheet := range f.GetSheetList() {
			tables = append(tables, fileTable{name: base + "." + sheet, path: p, sheet: sheet})
		}
		_ = f.Close()
	}
	return tables, nil
}

// withRecords opens t and hands fn a record reader positioned at the header.
func (a *FileAdapter) withRecords(t fileTable, fn func(recordReader) error) error {
	if t.sheet == "" {
		fh, err := os.Open(t.path)
		if err != nil {
			return err
		}
		defer fh.Close()
		return fn(csvRecords(fh))
	}

	f, err := excelize.OpenFile(t.path)
	if err != nil {
		return errWorkbook{err}
	}
	defer f.Close()

	rows, err := f.Rows(t.sheet)
	if err != nil {
		return errWorkbook{err}
	}
	defer rows.Close()

	return fn(func() ([]string, error) {
		if !rows.Next() {
			if err := rows.Error(); err != nil {
				return nil, errWorkbook{err}
			}
			return nil, io.EOF
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, errWorkbook{err}
		}
		return cols, nil
	})
}

type errWorkbook struct{ err error }

func (e errWorkbook) Error() string { return "workbook: " + e.err.Error() }
func (e errWorkbook) Unwrap() error { return e.err }

func (a *FileAdapter) classify(ds, table, field string, err error) error {
	if IsUnavailable(err) || IsMalformed(err) {
		return err
	}
	var (
		wb errWorkbook
		he headerError
	)
	switch {
	case errors.Is(err, errMissingColumn):
		return malformed(ds, table, field, "column not found", nil)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return unavailable(ds, table, field, err)
	case isParseError(err), errors.As(err, &wb):
		return malformed(ds, table, field, "unparseable file", err)
	case errors.As(err, &he):
		return malformed(ds, table, field, he.Error(), nil)
	}
	return unavailable(ds, table, field, fmt.Errorf("read: %w", err))
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "csv"
	case ".xlsx", ".xlsm":
		return "xlsx"
	}
	return ""
}
