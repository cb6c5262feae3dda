package coordinator

import (
	"github.com/pkg/errors"

	"github.com/NVIDIA/aisync/cmn"
)

// LayerBatchSize is one named layer's per-step batch size, the minimal slice of the solver's
// network configuration DivideBatchSize needs to touch (spec §6: "rewrites any per-layer
// batch_size field in the solver's network configuration").
type LayerBatchSize struct {
	Name      string
	BatchSize int
}

// NetConfig is the ordered list of batch-size-bearing layers in a solver's network.
type NetConfig struct {
	Layers []LayerBatchSize
}

// DivideBatchSize rewrites every layer's batch_size to batch_size/n (spec §6, §8 scenario 6).
// Validates every layer before mutating any of them: on a non-divisible batch size the whole
// operation fails with a wrapped cmn.ErrConfigMismatch and net is left unmodified.
func DivideBatchSize(net *NetConfig, n int) error {
	if n < 1 {
		return errors.Wrap(cmn.ErrConfigMismatch, "divide_batch_size: n must be >= 1")
	}
	for _, l := range net.Layers {
		if l.BatchSize%n != 0 {
			return errors.Wrapf(cmn.ErrConfigMismatch,
				"divide_batch_size: layer %q batch_size %d not divisible by %d", l.Name, l.BatchSize, n)
		}
	}
	for i := range net.Layers {
		net.Layers[i].BatchSize /= n
	}
	return nil
}
