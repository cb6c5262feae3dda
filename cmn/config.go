// Package cmn holds types and process-wide state shared by every aisync package: configuration,
// typed errors, and the small "global config owner" (GCO) indirection the teacher itself uses
// so that config is loaded once and read through an atomically-swappable pointer rather than
// threaded as a parameter through every call in the module.
package cmn

import (
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

type (
	// Backend selects the collective-communication implementation a Worker's Engine uses.
	Backend string

	// ReductionMode selects whole-model vs per-parameter-overlapped gradient reduction.
	ReductionMode string

	// Config is the single struct of recognized options (spec §6).
	Config struct {
		Devices       []int         `json:"devices"`
		Backend       Backend       `json:"backend"`
		ReductionMode ReductionMode `json:"reduction_mode"`
		GridDim       int           `json:"grid_dim"`
		RandomSeed    *int64        `json:"random_seed,omitempty"`
	}
)

const (
	VendorCollective Backend = "vendor_collective"
	InHouseP2P       Backend = "in_house_p2p"

	EndOfStepWholeModel  ReductionMode = "end_of_step_whole_model"
	PerParameterOverlap  ReductionMode = "per_parameter_overlap"

	DefaultGridDim = 8
)

// Validate fills in defaults and rejects a shape/config mismatch per spec §7 kind 3.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return errors.Wrap(ErrConfigMismatch, "devices: must list at least one device id")
	}
	switch c.Backend {
	case VendorCollective, InHouseP2P:
	case "":
		c.Backend = InHouseP2P
	default:
		return errors.Wrapf(ErrConfigMismatch, "backend: unrecognized value %q", c.Backend)
	}
	switch c.ReductionMode {
	case EndOfStepWholeModel, PerParameterOverlap:
	case "":
		c.ReductionMode = EndOfStepWholeModel
	default:
		return errors.Wrapf(ErrConfigMismatch, "reduction_mode: unrecognized value %q", c.ReductionMode)
	}
	if c.GridDim == 0 {
		c.GridDim = DefaultGridDim
	}
	if c.GridDim < 0 {
		return errors.Wrap(ErrConfigMismatch, "grid_dim: must be positive")
	}
	return nil
}

// N is the configured world size.
func (c *Config) N() int { return len(c.Devices) }

// SeedFor returns the per-worker RNG seed per spec §4.2, and whether a seed was configured at all.
func (c *Config) SeedFor(deviceID int) (int64, bool) {
	if c.RandomSeed == nil {
		return 0, false
	}
	return *c.RandomSeed + int64(deviceID), true
}

// DecodeJSON decodes a Config from JSON bytes using the teacher's jsoniter codec.
func DecodeJSON(data []byte) (*Config, error) {
	var c Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodeJSON is the inverse of DecodeJSON, used by statusd to render a Config snapshot.
func EncodeJSON(c *Config) ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(c, "", "  ")
}

//
// GCO: global config owner — installed by the Coordinator at Run() entry (Put) and readable
// via atomic load (Get) from anywhere; no package in this module calls Get, each receives its
// Config explicitly. This is the teacher's cmn.GCO.Get()
// pattern, not a package-level mutable Config (design note §9: no global/static mutable state).
//

type gco struct {
	p atomic.Pointer[Config]
}

var GCO = &gco{}

func (g *gco) Put(c *Config) { g.p.Store(c) }

// Get returns the current process-wide config, or a zero-value Config with in-house defaults
// if none has been installed yet (so that packages may be unit-tested without a Coordinator).
func (g *gco) Get() *Config {
	c := g.p.Load()
	if c == nil {
		return &Config{Backend: InHouseP2P, ReductionMode: EndOfStepWholeModel, GridDim: DefaultGridDim}
	}
	return c
}
