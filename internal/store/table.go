/**
 * @description
 * Flat tabular file handling shared by the file-backed repositories: CSV
 * decoding into a header + rows table, atomic whole-table rewrites, and the
 * cross-process writer lock.
 *
 * @dependencies
 * - encoding/csv: quoting rules for the persisted table format.
 * - github.com/gofrs/flock: exclusive lock shared by every process that
 *   writes the same data directory (server, scheduler, signupctl).
 */
package store

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Table is an in-memory copy of a persisted table. Cells are addressed by
// column name so rows written by older layouts keep their data.
type Table struct {
	Header []string
	Rows   [][]string
	// Exists is false when the table file has not been created yet.
	Exists bool

	index map[string]int
}

func newTable(header []string) *Table {
	t := &Table{Header: append([]string(nil), header...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Header))
	for i, name := range t.Header {
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
}

// Has reports whether the header contains column.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Get returns the cell of row i in column, or "" when absent.
func (t *Table) Get(i int, column string) string {
	pos, ok := t.index[column]
	if !ok || pos >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][pos]
}

// Set writes the cell of row i in column. The column must exist.
func (t *Table) Set(i int, column, value string) {
	pos, ok := t.index[column]
	if !ok {
		return
	}
	for len(t.Rows[i]) <= pos {
		t.Rows[i] = append(t.Rows[i], "")
	}
	t.Rows[i][pos] = value
}

// AddColumn appends a column initialized to the empty string.
func (t *Table) AddColumn(column string) {
	if t.Has(column) {
		return
	}
	t.Header = append(t.Header, column)
	t.index[column] = len(t.Header) - 1
	for i := range t.Rows {
		t.padRow(i)
	}
}

// AppendRow adds an empty row and returns its index.
func (t *Table) AppendRow() int {
	t.Rows = append(t.Rows, make([]string, len(t.Header)))
	return len(t.Rows) - 1
}

// DeleteRow removes row i, keeping the order of the others.
func (t *Table) DeleteRow(i int) {
	t.Rows = append(t.Rows[:i], t.Rows[i+1:]...)
}

// Find returns the index of the first row whose column equals value.
func (t *Table) Find(column, value string) int {
	for i := range t.Rows {
		if t.Get(i, column) == value {
			return i
		}
	}
	return -1
}

func (t *Table) padRow(i int) {
	for len(t.Rows[i]) < len(t.Header) {
		t.Rows[i] = append(t.Rows[i], "")
	}
	if len(t.Rows[i]) > len(t.Header) {
		t.Rows[i] = t.Rows[i][:len(t.Header)]
	}
}

// readTable loads the table at path. A missing file yields an empty table.
func readTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newTable(nil), nil
		}
		return nil, ioErr("open", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			t := newTable(nil)
			t.Exists = true
			return t, nil
		}
		return nil, ioErr("read header", path, err)
	}

	t := newTable(header)
	t.Exists = true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ioErr("read row", path, err)
		}
		if isBlankRow(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}

// writeTableAtomic replaces the file at path with t. The new content is
// written to a sibling temp file, synced, renamed into place, and the
// directory entry is synced before returning.
func writeTableAtomic(path string, t *Table) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return ioErr("create temp", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if err = w.Write(t.Header); err != nil {
		return ioErr("write header", tmpName, err)
	}
	for i := range t.Rows {
		t.padRow(i)
	}
	if err = w.WriteAll(t.Rows); err != nil {
		return ioErr("write rows", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return ioErr("sync", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return ioErr("close", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return ioErr("rename", path, err)
	}
	if err = syncDir(dir); err != nil {
		return ioErr("sync dir", dir, err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// lockFile takes the exclusive cross-process writer lock for path.
func lockFile(path string) (func(), error) {
	fl := flock.New(path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, ioErr("lock", path, err)
	}
	return func() { _ = fl.Unlock() }, nil
}
