// Package pipeline drives the six-stage benchmark run: it sequences the
// phase runners over a run's checkpoint, bounds per-phase parallelism, and
// exposes the orchestrator the CLI and the comparison coordinator call.
package pipeline

import (
	"github.com/BaSui01/membench/checkpoint"
)

// ResolveConcurrency picks the worker-pool size for one phase. Resolution
// order: CLI per-phase override, CLI default, provider per-phase default,
// provider default, then 1 (strictly sequential). Zero values mean unset.
func ResolveConcurrency(phase checkpoint.Phase, cli, providerDefaults checkpoint.ConcurrencyOverrides) int {
	if v := cli.PerPhase[phase]; v > 0 {
		return v
	}
	if cli.Default > 0 {
		return cli.Default
	}
	if v := providerDefaults.PerPhase[phase]; v > 0 {
		return v
	}
	if providerDefaults.Default > 0 {
		return providerDefaults.Default
	}
	return 1
}
