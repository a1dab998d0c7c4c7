// Package ingest reads crawl exports produced by the external crawler.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/crawl-orchestrator/internal/entity"
)

const byteOrderMark = "\ufeff"

// DefaultPatterns matches the "Internal:All" tab export.
var DefaultPatterns = []string{"internal_all.csv"}

// Ingestor locates crawl exports in a run directory and opens them as rows.
type Ingestor struct {
	patterns []string
}

// New returns an Ingestor matching export file base names against patterns (filepath.Match syntax).
func New(patterns []string) *Ingestor {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Ingestor{patterns: patterns}
}

// Find returns every export below dir, sorted by path.
func (i *Ingestor) Find(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, p := range i.patterns {
			if ok, _ := filepath.Match(p, strings.ToLower(d.Name())); ok {
				files = append(files, path)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, &entity.IngestError{Path: dir, Err: err}
	}
	if len(files) == 0 {
		return nil, &entity.IngestError{Path: dir, Err: fmt.Errorf("%w (patterns %v)", entity.ErrNoExport, i.patterns)}
	}
	sort.Strings(files)
	return files, nil
}

// Open returns a one-pass row sequence over every export below dir.
func (i *Ingestor) Open(dir string) (*Rows, error) {
	files, err := i.Find(dir)
	if err != nil {
		return nil, err
	}
	return &Rows{files: files}, nil
}

// Rows is a lazy, single-pass sequence of crawl result rows. It cannot be restarted.
//
//	rows, err := ing.Open(dir)
//	...
//	defer rows.Close()
//	for rows.Next() {
//		row := rows.Row()
//	}
//	if err := rows.Err(); err != nil { ... }
type Rows struct {
	files  []string
	next   int
	file   *os.File
	reader *csv.Reader
	header []string
	path   string
	row    entity.CrawlResultRow
	err    error
	done   bool
}

// Next advances to the next row. It returns false at the end of the sequence or on error.
func (r *Rows) Next() bool {
	if r.done {
		return false
	}

	for {
		if r.reader == nil {
			if r.next >= len(r.files) {
				r.finish(nil)
				return false
			}
			if err := r.openNext(); err != nil {
				r.finish(err)
				return false
			}
		}

		record, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			r.closeFile()
			continue
		}
		if err != nil {
			r.finish(r.wrap(err))
			return false
		}

		row := make(entity.CrawlResultRow, len(r.header))
		for idx, name := range r.header {
			row[name] = record[idx]
		}
		r.row = row
		return true
	}
}

// Row returns the current row.
func (r *Rows) Row() entity.CrawlResultRow {
	return r.row
}

// Err returns the error that stopped iteration, if any.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the open export file. It is safe to call more than once.
func (r *Rows) Close() error {
	r.done = true
	return r.closeFile()
}

func (r *Rows) openNext() error {
	path := r.files[r.next]
	r.next++

	f, err := os.Open(path)
	if err != nil {
		return &entity.IngestError{Path: path, Err: err}
	}

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return &entity.IngestError{Path: path, Err: errors.New("export is empty, missing header row")}
		}
		return &entity.IngestError{Path: path, Err: err}
	}

	seen := make(map[string]struct{}, len(header))
	for idx, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, byteOrderMark))
		if name == "" {
			f.Close()
			return &entity.IngestError{Path: path, Line: 1, Err: fmt.Errorf("empty column name at position %d", idx+1)}
		}
		if _, dup := seen[name]; dup {
			f.Close()
			return &entity.IngestError{Path: path, Line: 1, Err: fmt.Errorf("duplicate column %q", name)}
		}
		seen[name] = struct{}{}
		header[idx] = name
	}

	r.file, r.reader, r.header, r.path = f, reader, header, path
	return nil
}

func (r *Rows) wrap(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &entity.IngestError{Path: r.path, Line: parseErr.Line, Err: parseErr.Err}
	}
	return &entity.IngestError{Path: r.path, Err: err}
}

func (r *Rows) finish(err error) {
	r.err = err
	r.row = nil
	r.done = true
	r.closeFile()
}

func (r *Rows) closeFile() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.reader, r.header = nil, nil, nil
	return err
}
