package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
)

// Stdout is the path that sends output to standard output.
const Stdout = "-"

// Writer persists a finished report.
type Writer interface {
	WriteReport(ctx context.Context, r domain.Report) error
}

// JSONWriter writes the report as indented JSON.
type JSONWriter struct {
	path   string
	stdout io.Writer
}

// NewJSONWriter creates a writer for path, or standard output when path is "-".
func NewJSONWriter(path string) *JSONWriter {
	return &JSONWriter{path: path, stdout: os.Stdout}
}

func (w *JSONWriter) WriteReport(ctx context.Context, r domain.Report) error {
	return writeTo(ctx, w.path, w.stdout, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	})
}

// MatrixCSVWriter writes the distance matrix as CSV: a header of labels
// behind an empty corner cell, then one row per label.
type MatrixCSVWriter struct {
	path   string
	stdout io.Writer
}

// NewMatrixCSVWriter creates a writer for path, or standard output when path is "-".
func NewMatrixCSVWriter(path string) *MatrixCSVWriter {
	return &MatrixCSVWriter{path: path, stdout: os.Stdout}
}

func (w *MatrixCSVWriter) WriteReport(ctx context.Context, r domain.Report) error {
	if len(r.Distances) != len(r.Labels) {
		return fmt.Errorf("report has %d labels but %d matrix rows", len(r.Labels), len(r.Distances))
	}
	return writeTo(ctx, w.path, w.stdout, func(out io.Writer) error {
		cw := csv.NewWriter(out)
		header := append([]string{""}, r.Labels...)
		if err := cw.Write(header); err != nil {
			return err
		}
		for i, row := range r.Distances {
			rec := make([]string, 0, len(row)+1)
			rec = append(rec, r.Labels[i])
			for _, v := range row {
				rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// Multi fans a report out to every writer, stopping at the first failure.
type Multi []Writer

func (m Multi) WriteReport(ctx context.Context, r domain.Report) error {
	for _, w := range m {
		if err := w.WriteReport(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func writeTo(ctx context.Context, path string, stdout io.Writer, fn func(io.Writer) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path == Stdout {
		return fn(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	if err := fn(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
