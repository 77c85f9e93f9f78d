package mmm

import (
	"fmt"
)

// Posterior holds constrained parameter draws merged across chains. Draws
// are stored chain-major: chain 0 first, then chain 1, and so on.
type Posterior struct {
	layout        *layout
	chains        int
	drawsPerChain int
	draws         [][]float64
}

func mergeChains(l *layout, results []*chainResult) *Posterior {
	p := &Posterior{layout: l, chains: len(results)}
	for _, r := range results {
		p.drawsPerChain = len(r.draws)
		p.draws = append(p.draws, r.draws...)
	}
	return p
}

// NumDraws returns the total number of draws across chains.
func (p *Posterior) NumDraws() int { return len(p.draws) }

// NumChains returns the number of chains merged into the posterior.
func (p *Posterior) NumChains() int { return p.chains }

// DrawsPerChain returns the number of kept draws of each chain.
func (p *Posterior) DrawsPerChain() int { return p.drawsPerChain }

// Dim returns the number of scalar parameters.
func (p *Posterior) Dim() int { return p.layout.dim }

// Labels names every scalar parameter, e.g. "sigma" or "coef_media[2]".
func (p *Posterior) Labels() []string { return p.layout.names() }

// ParamNames lists the parameter families in layout order.
func (p *Posterior) ParamNames() []string {
	out := make([]string, len(p.layout.blocks))
	for i, b := range p.layout.blocks {
		out[i] = b.name
	}
	return out
}

// Param returns draws x size values of one parameter family.
func (p *Posterior) Param(name string) ([][]float64, error) {
	if !p.layout.has(name) {
		return nil, fmt.Errorf("parameter %q is not part of the model", name)
	}
	out := make([][]float64, len(p.draws))
	for i, x := range p.draws {
		out[i] = append([]float64(nil), p.layout.view(x, name)...)
	}
	return out, nil
}

// Element returns the draws of scalar parameter j split by chain.
func (p *Posterior) Element(j int) [][]float64 {
	out := make([][]float64, p.chains)
	for c := range out {
		series := make([]float64, p.drawsPerChain)
		for i := range series {
			series[i] = p.draws[c*p.drawsPerChain+i][j]
		}
		out[c] = series
	}
	return out
}

// Thin keeps at most maxDraws draws spread evenly over the posterior. The
// result shares memory with p and reports a single chain.
func (p *Posterior) Thin(maxDraws int) *Posterior {
	n := len(p.draws)
	if maxDraws <= 0 || maxDraws >= n {
		return p
	}
	draws := make([][]float64, maxDraws)
	for i := range draws {
		draws[i] = p.draws[i*n/maxDraws]
	}
	return &Posterior{layout: p.layout, chains: 1, drawsPerChain: maxDraws, draws: draws}
}
