package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/rowflow/pipeline/store"
)

// Chain is the serialized provenance of a row: the latest record of every
// step from the top of the table down to it.
type Chain struct {
	Pipeline string         `json:"pipeline"`
	UpTo     int            `json:"upTo"`
	Steps    []store.Record `json:"steps"`
}

// ChainUpTo collects the provenance of row. It fails with ErrNotComputed
// when row itself has no recorded run.
func (p *Pipeline) ChainUpTo(ctx context.Context, row int) (Chain, error) {
	p.mu.RLock()
	if row < 0 || row >= len(p.steps) {
		n := len(p.steps)
		p.mu.RUnlock()
		return Chain{}, rowOutOfRange("provenance", row, n)
	}
	ids := make([]string, row+1)
	for i := 0; i <= row; i++ {
		ids[i] = p.steps[i].id
	}
	p.mu.RUnlock()

	chain := Chain{Pipeline: p.id, UpTo: row}
	for i, id := range ids {
		rec, err := p.prov.Latest(ctx, p.id, id)
		if errors.Is(err, store.ErrNotFound) {
			if i == row {
				return Chain{}, fmt.Errorf("row %d: %w", row, ErrNotComputed)
			}
			continue
		}
		if err != nil {
			return Chain{}, fmt.Errorf("provenance of row %d: %w", i, err)
		}
		chain.Steps = append(chain.Steps, rec)
	}
	return chain, nil
}

// SerializedChainUpTo returns ChainUpTo as JSON.
func (p *Pipeline) SerializedChainUpTo(ctx context.Context, row int) (string, error) {
	chain, err := p.ChainUpTo(ctx, row)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(chain)
	if err != nil {
		return "", fmt.Errorf("marshal provenance: %w", err)
	}
	return string(data), nil
}
