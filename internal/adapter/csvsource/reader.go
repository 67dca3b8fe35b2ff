package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
	"github.com/couchcryptid/chlorophyll-emd/internal/observability"
)

// ErrMalformedRow is wrapped by every row-level parse failure.
var ErrMalformedRow = errors.New("malformed row")

// Columns names the CSV header fields holding each observation component.
type Columns struct {
	Lon   string
	Lat   string
	Month string
	Value string
}

// Reader loads observation rows from CSV tiles.
// It implements pipeline.ObservationReader.
type Reader struct {
	columns Columns
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReader creates a Reader for the given header names. metrics may be nil.
func NewReader(columns Columns, logger *slog.Logger, metrics *observability.Metrics) *Reader {
	return &Reader{columns: columns, logger: logger, metrics: metrics}
}

// ReadObservations reads every data row of the CSV file at path.
func (r *Reader) ReadObservations(ctx context.Context, path string) ([]domain.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	obs, err := r.Decode(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.logger.Debug("observations read", "path", path, "rows", len(obs))
	return obs, nil
}

// Decode parses CSV content with a header row.
func (r *Reader) Decode(ctx context.Context, src io.Reader) ([]domain.Observation, error) {
	cr := csv.NewReader(src)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := r.columnIndex(header)
	if err != nil {
		return nil, err
	}

	var obs []domain.Observation //nolint:prealloc // row count unknown until EOF
	line := 1
	for {
		line++
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		o, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !o.Finite() && r.metrics != nil {
			r.metrics.ObservationsMissing.Inc()
		}
		obs = append(obs, o)
	}

	if r.metrics != nil {
		r.metrics.ObservationsRead.Add(float64(len(obs)))
	}
	return obs, nil
}

type columnIndex struct {
	lon, lat, month, value int
}

func (r *Reader) columnIndex(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	lookup := func(name string) (int, error) {
		i, ok := pos[name]
		if !ok {
			return 0, fmt.Errorf("missing column %q in header %v", name, header)
		}
		return i, nil
	}

	var idx columnIndex
	var err error
	if idx.lon, err = lookup(r.columns.Lon); err != nil {
		return idx, err
	}
	if idx.lat, err = lookup(r.columns.Lat); err != nil {
		return idx, err
	}
	if idx.month, err = lookup(r.columns.Month); err != nil {
		return idx, err
	}
	if idx.value, err = lookup(r.columns.Value); err != nil {
		return idx, err
	}
	return idx, nil
}

func parseRow(rec []string, idx columnIndex) (domain.Observation, error) {
	field := func(i int) string {
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	lon, err := parseCoord(field(idx.lon))
	if err != nil {
		return domain.Observation{}, fmt.Errorf("%w: lon %q", ErrMalformedRow, field(idx.lon))
	}
	lat, err := parseCoord(field(idx.lat))
	if err != nil {
		return domain.Observation{}, fmt.Errorf("%w: lat %q", ErrMalformedRow, field(idx.lat))
	}
	month, err := parseMonth(field(idx.month))
	if err != nil {
		return domain.Observation{}, err
	}
	value, err := parseValue(field(idx.value))
	if err != nil {
		return domain.Observation{}, err
	}

	return domain.Observation{Lon: lon, Lat: lat, Month: month, Value: value}, nil
}

func parseCoord(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not finite")
	}
	return v, nil
}

// parseMonth accepts integers 1-12. Some exports write months as "3.0".
func parseMonth(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 1 || f > 12 {
		return 0, fmt.Errorf("%w: month %q", ErrMalformedRow, s)
	}
	return int(f), nil
}

// parseValue maps the missing-value tokens to NaN. Negative and infinite
// readings are malformed.
func parseValue(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "", "na", "nan":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q", ErrMalformedRow, s)
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: infinite value %q", ErrMalformedRow, s)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative value %g", ErrMalformedRow, v)
	}
	return v, nil
}
