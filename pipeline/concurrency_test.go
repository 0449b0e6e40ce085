package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/membench/checkpoint"
)

func TestResolveConcurrency(t *testing.T) {
	t.Parallel()

	cli := checkpoint.ConcurrencyOverrides{
		Default:  4,
		PerPhase: map[checkpoint.Phase]int{checkpoint.PhaseIngest: 2},
	}
	prov := checkpoint.ConcurrencyOverrides{
		Default:  8,
		PerPhase: map[checkpoint.Phase]int{checkpoint.PhaseSearch: 16},
	}

	tests := []struct {
		name  string
		phase checkpoint.Phase
		cli   checkpoint.ConcurrencyOverrides
		prov  checkpoint.ConcurrencyOverrides
		want  int
	}{
		{name: "cli per-phase wins", phase: checkpoint.PhaseIngest, cli: cli, prov: prov, want: 2},
		{name: "cli default beats provider", phase: checkpoint.PhaseSearch, cli: cli, prov: prov, want: 4},
		{name: "provider per-phase", phase: checkpoint.PhaseSearch, prov: prov, want: 16},
		{name: "provider default", phase: checkpoint.PhaseAnswer, prov: prov, want: 8},
		{name: "fallback is sequential", phase: checkpoint.PhaseEvaluate, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveConcurrency(tt.phase, tt.cli, tt.prov))
		})
	}
}
