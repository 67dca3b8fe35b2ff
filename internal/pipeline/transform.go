package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
)

// BuildSignatures reads every source and builds one signature per selected
// month. Signatures are ordered by source, then month, which is also the
// row order of the distance matrix.
func (p *Pipeline) BuildSignatures(ctx context.Context) ([]domain.Signature, error) {
	sigs := make([]domain.Signature, 0, len(p.cfg.Sources)*len(p.cfg.Months))

	for _, src := range p.cfg.Sources {
		done := p.stage("extract")
		obs, err := p.reader.ReadObservations(ctx, src.Path)
		done()
		if err != nil {
			return nil, fmt.Errorf("read source %q: %w", src.Name, err)
		}
		p.logger.Info("source loaded", "source", src.Name, "path", src.Path, "observations", len(obs))

		done = p.stage("transform")
		built, err := p.buildSource(ctx, src, obs)
		done()
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, built...)
	}
	return sigs, nil
}

func (p *Pipeline) buildSource(ctx context.Context, src domain.Source, obs []domain.Observation) ([]domain.Signature, error) {
	spec := p.cfg.Grid
	spec.TrimRows = src.TrimRows

	out := make([]domain.Signature, 0, len(p.cfg.Months))
	for _, month := range p.cfg.Months {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := domain.SignatureKey{Source: src.Name, Month: month}
		sig, err := domain.BuildSignature(obs, key, spec)
		if err != nil {
			p.metrics.SignatureErrors.WithLabelValues(errorReason(err)).Inc()
			p.logger.Error("signature build failed", "source", src.Name, "month", month, "error", err)
			return nil, fmt.Errorf("source %q month %d: %w", src.Name, month, err)
		}
		p.metrics.SignaturesBuilt.Inc()
		p.logger.Debug("signature built",
			"label", sig.Label(),
			"rows", sig.Rows,
			"cols", sig.Cols,
			"observed", sig.Observed,
			"mass", sig.Mass,
		)
		out = append(out, sig)
	}
	return out, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptySignature):
		return "empty"
	case errors.Is(err, domain.ErrDegenerateSignature):
		return "degenerate"
	default:
		return "invalid"
	}
}
