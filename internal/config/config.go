package config

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/chlorophyll-emd/internal/analysis"
	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	Sources    []domain.Source
	BBox       domain.BoundingBox
	Resolution float64
	Frame      domain.Frame
	Months     []int

	// CSV header names.
	LonColumn   string
	LatColumn   string
	MonthColumn string
	ValueColumn string

	CostExponent    float64
	Workers         int
	OracleCacheSize int
	MaxIterations   int
	MaxSupport      int

	Linkage    string
	Clusters   int
	Dimensions int
	KeepPlans  bool

	OutputPath      string
	MatrixCSVPath   string
	MetricsTextfile string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	sources, err := parseSources(sharedcfg.EnvOrDefault("SOURCES", ""))
	if err != nil {
		return nil, err
	}
	if err := applyTrimRows(sources, sharedcfg.EnvOrDefault("TRIM_ROWS", "")); err != nil {
		return nil, err
	}

	bbox, err := parseBBox(sharedcfg.EnvOrDefault("BBOX", ""))
	if err != nil {
		return nil, err
	}

	resolution, err := parseFloat("GRID_RESOLUTION", "1")
	if err != nil {
		return nil, err
	}
	if !(resolution > 0) {
		return nil, fmt.Errorf("invalid GRID_RESOLUTION: must be positive, got %g", resolution)
	}

	frame, err := domain.ParseFrame(sharedcfg.EnvOrDefault("GROUND_FRAME", string(domain.FrameIndex)))
	if err != nil {
		return nil, fmt.Errorf("invalid GROUND_FRAME: %w", err)
	}

	months, err := parseMonths(sharedcfg.EnvOrDefault("MONTHS", "1-12"))
	if err != nil {
		return nil, err
	}

	costExponent, err := parseFloat("COST_EXPONENT", "2")
	if err != nil {
		return nil, err
	}
	if !(costExponent >= 1) {
		return nil, fmt.Errorf("invalid COST_EXPONENT: must be >= 1, got %g", costExponent)
	}

	workers, err := parseInt("WORKERS", strconv.Itoa(runtime.NumCPU()), 1)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("ORACLE_CACHE_SIZE", "256", 0)
	if err != nil {
		return nil, err
	}
	maxIterations, err := parseInt("MAX_ITERATIONS", "0", 0)
	if err != nil {
		return nil, err
	}
	maxSupport, err := parseInt("MAX_SUPPORT", "2500", 0)
	if err != nil {
		return nil, err
	}

	linkage, err := analysis.ParseLinkage(sharedcfg.EnvOrDefault("LINKAGE", analysis.LinkageComplete))
	if err != nil {
		return nil, fmt.Errorf("invalid LINKAGE: %w", err)
	}
	clusters, err := parseInt("CLUSTERS", "2", 0)
	if err != nil {
		return nil, err
	}
	dims, err := parseInt("MDS_DIMENSIONS", "2", 1)
	if err != nil {
		return nil, err
	}

	keepPlans, err := strconv.ParseBool(sharedcfg.EnvOrDefault("KEEP_PLANS", "false"))
	if err != nil {
		return nil, errors.New("invalid KEEP_PLANS")
	}

	cfg := &Config{
		Sources:    sources,
		BBox:       bbox,
		Resolution: resolution,
		Frame:      frame,
		Months:     months,

		LonColumn:   sharedcfg.EnvOrDefault("LON_COLUMN", "lon"),
		LatColumn:   sharedcfg.EnvOrDefault("LAT_COLUMN", "lat"),
		MonthColumn: sharedcfg.EnvOrDefault("MONTH_COLUMN", "month"),
		ValueColumn: sharedcfg.EnvOrDefault("VALUE_COLUMN", "chl"),

		CostExponent:    costExponent,
		Workers:         workers,
		OracleCacheSize: cacheSize,
		MaxIterations:   maxIterations,
		MaxSupport:      maxSupport,

		Linkage:    linkage,
		Clusters:   clusters,
		Dimensions: dims,
		KeepPlans:  keepPlans,

		OutputPath:      sharedcfg.EnvOrDefault("OUTPUT_PATH", "-"),
		MatrixCSVPath:   sharedcfg.EnvOrDefault("MATRIX_CSV_PATH", ""),
		MetricsTextfile: sharedcfg.EnvOrDefault("METRICS_TEXTFILE", ""),

		LogLevel:  sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
	}

	for _, src := range cfg.Sources {
		if err := cfg.Grid(src).Validate(); err != nil {
			return nil, fmt.Errorf("invalid grid for source %q: %w", src.Name, err)
		}
	}
	if err := cfg.checkAnalysis(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// checkAnalysis rejects cuts and embeddings larger than the number of
// signatures the run will build. Runs with a single signature skip analysis.
func (c *Config) checkAnalysis() error {
	n := len(c.Sources) * len(c.Months)
	if n < 2 {
		return nil
	}
	if c.Clusters > n {
		return fmt.Errorf("invalid CLUSTERS: %d exceeds the %d signatures", c.Clusters, n)
	}
	if c.Dimensions > n {
		return fmt.Errorf("invalid MDS_DIMENSIONS: %d exceeds the %d signatures", c.Dimensions, n)
	}
	return nil
}

// Grid returns the grid used for src.
func (c *Config) Grid(src domain.Source) domain.GridSpec {
	return domain.GridSpec{
		BBox:       c.BBox,
		Resolution: c.Resolution,
		TrimRows:   src.TrimRows,
		Frame:      c.Frame,
	}
}

// parseSources parses "name=path,name=path". Order is preserved.
func parseSources(s string) ([]domain.Source, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("SOURCES is required")
	}
	var out []domain.Source
	seen := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, path, ok := strings.Cut(item, "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid SOURCES entry %q: want name=path", item)
		}
		if seen[name] {
			return nil, fmt.Errorf("invalid SOURCES: duplicate source %q", name)
		}
		seen[name] = true
		out = append(out, domain.Source{Name: name, Path: path})
	}
	if len(out) == 0 {
		return nil, errors.New("SOURCES is required")
	}
	return out, nil
}

// applyTrimRows parses "name=n,..." onto the matching sources.
func applyTrimRows(sources []domain.Source, s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, count, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if !ok || err != nil || n < 0 {
			return fmt.Errorf("invalid TRIM_ROWS entry %q: want name=rows", item)
		}
		idx := slices.IndexFunc(sources, func(src domain.Source) bool { return src.Name == name })
		if idx < 0 {
			return fmt.Errorf("invalid TRIM_ROWS: unknown source %q", name)
		}
		sources[idx].TrimRows = n
	}
	return nil
}

func parseBBox(s string) (domain.BoundingBox, error) {
	if strings.TrimSpace(s) == "" {
		return domain.BoundingBox{}, errors.New("BBOX is required")
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.BoundingBox{}, fmt.Errorf("invalid BBOX %q: want minLon,minLat,maxLon,maxLat", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("invalid BBOX %q: %w", s, err)
		}
		v[i] = f
	}
	bbox := domain.BoundingBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if err := bbox.Validate(); err != nil {
		return domain.BoundingBox{}, fmt.Errorf("invalid BBOX: %w", err)
	}
	return bbox, nil
}

// parseMonths parses lists and ranges such as "1-3,6". The result is sorted
// and free of duplicates.
func parseMonths(s string) ([]int, error) {
	var months []int
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(item, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid MONTHS entry %q", item)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("invalid MONTHS entry %q", item)
			}
		}
		if from < 1 || to > 12 || from > to {
			return nil, fmt.Errorf("invalid MONTHS entry %q: months run 1-12", item)
		}
		for m := from; m <= to; m++ {
			months = append(months, m)
		}
	}
	if len(months) == 0 {
		return nil, errors.New("invalid MONTHS: no months selected")
	}
	slices.Sort(months)
	return slices.Compact(months), nil
}

func parseFloat(key, fallback string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, fallback), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseInt(key, fallback string, minimum int) (int, error) {
	v, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < minimum {
		return 0, fmt.Errorf("invalid %s: must be >= %d, got %d", key, minimum, v)
	}
	return v, nil
}
