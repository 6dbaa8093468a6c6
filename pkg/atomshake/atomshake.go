// Package atomshake performs atomic Monte Carlo on every atom of a
// configuration. Process groups work on non neighbouring cells at the same
// time and share their accepted moves at the end of each round.
package atomshake

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/kpotier/molrefine/pkg/cells"
	"github.com/kpotier/molrefine/pkg/changestore"
	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/kernel"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/store"
	"github.com/kpotier/molrefine/pkg/util"

	"github.com/pelletier/go-toml"
	"gonum.org/v1/gonum/spatial/r3"
)

// Type is the type of module.
var Type = "atomshake"

// Names of the items stored in the configuration.
const (
	StepSizeItem    = "AtomShake//StepSize"
	EnergyDeltaItem = "AtomShake//EnergyDelta"
)

// AtomShake contains the parameters of the module. They are parsed from the
// run file by New. A negative Cutoff means the range of the pair potentials.
// StepSize is the initial translation step in Angstroms; the current one is
// kept with the configuration.
type AtomShake struct {
	Cutoff               float64 `toml:"atomshake.cutoff"`
	ShakesPerAtom        int     `toml:"atomshake.shakes_per_atom"`
	TargetAcceptanceRate float64 `toml:"atomshake.target_acceptance_rate"`
	StepSize             float64 `toml:"atomshake.step_size"`
	StepSizeMin          float64 `toml:"atomshake.step_size_min"`
	StepSizeMax          float64 `toml:"atomshake.step_size_max"`
}

// Stats are the statistics of a sweep, summed over every group.
type Stats struct {
	Accepted int
	Tried    int
	Delta    float64
	StepSize float64
}

// Rate returns the acceptance rate of the sweep.
func (s Stats) Rate() float64 {
	if s.Tried == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Tried)
}

// New returns an instance of the AtomShake structure read from the file
// located at path. The file must be a TOML file.
func New(path string) (*AtomShake, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a := Default()
	dec := toml.NewDecoder(f)
	err = dec.Decode(a)
	if err != nil {
		return nil, err
	}
	return a, a.Check()
}

// Default returns the module with its default parameters.
func Default() *AtomShake {
	return &AtomShake{
		Cutoff:               -1,
		ShakesPerAtom:        1,
		TargetAcceptanceRate: 0.33,
		StepSize:             0.05,
		StepSizeMin:          0.001,
		StepSizeMax:          1,
	}
}

// Check validates the parameters.
func (a *AtomShake) Check() error {
	if a.ShakesPerAtom < 1 {
		return errors.New("shakes_per_atom must be at least 1")
	}
	if a.TargetAcceptanceRate <= 0 || a.TargetAcceptanceRate > 1 {
		return fmt.Errorf("target acceptance rate %g out of ]0, 1]", a.TargetAcceptanceRate)
	}
	if a.StepSizeMin <= 0 || a.StepSizeMax < a.StepSizeMin {
		return fmt.Errorf("invalid step size bounds [%g, %g]", a.StepSizeMin, a.StepSizeMax)
	}
	if a.StepSize < a.StepSizeMin || a.StepSize > a.StepSizeMax {
		return fmt.Errorf("step size %g out of [%g, %g]", a.StepSize, a.StepSizeMin, a.StepSizeMax)
	}
	return nil
}

// Name returns the name of the module.
func (a *AtomShake) Name() string { return "AtomShake" }

// Metropolis reports whether a move changing the energy by delta is
// accepted at the inverse temperature beta (mol/kJ). Downhill moves are
// accepted without calling draw.
func Metropolis(delta, beta float64, draw func() float64) bool {
	if delta <= 0 {
		return true
	}
	return draw() < math.Exp(-delta*beta)
}

// Process performs one sweep and logs its statistics.
func (a *AtomShake) Process(ctx *sim.Context) error {
	st, err := a.Shake(ctx)
	if err != nil {
		return err
	}
	ctx.Printf("AtomShake: overall acceptance rate was %4.2f%% (%d of %d attempted moves)", 100*st.Rate(), st.Accepted, st.Tried)
	ctx.Printf("AtomShake: total energy delta was %10.4e kJ/mol", st.Delta)
	ctx.Printf("AtomShake: updated translation step is %f Angstroms", st.StepSize)
	return nil
}

// stepSize returns the current step size of cfg.
func (a *AtomShake) stepSize(cfg *configuration.Configuration) float64 {
	step, ok := store.Get[float64](cfg.Data, StepSizeItem)
	if !ok {
		return a.StepSize
	}
	return step
}

// Shake moves every atom of the configuration of ctx ShakesPerAtom times.
// Every process of the pool must call it with its own copy of the
// configuration.
func (a *AtomShake) Shake(ctx *sim.Context) (Stats, error) {
	err := ctx.Check()
	if err != nil {
		return Stats{}, err
	}
	cfg, pool := ctx.Cfg, ctx.Pool
	if cfg.Temperature <= 0 {
		return Stats{}, fmt.Errorf("configuration `%s`: temperature must be positive", cfg.Name)
	}

	cutoff := a.Cutoff
	if cutoff < 0 {
		cutoff = ctx.Pot.Range()
	}
	k, err := kernel.New(cfg, ctx.Pot, cutoff)
	if err != nil {
		return Stats{}, fmt.Errorf("kernel.New: %w", err)
	}

	// Bonded terms are evaluated per atom below; a missing form must fail on
	// every process before the sweep starts.
	_, err = k.ReferenceIntramolecularEnergy()
	if err != nil {
		return Stats{}, fmt.Errorf("ReferenceIntramolecularEnergy: %w", err)
	}

	var (
		step  = a.stepSize(cfg)
		beta  = 1 / (util.Boltzmann * cfg.Temperature)
		dist  = cells.NewDistributor(cfg.Cells, pool.NGroups())
		cs    = changestore.New(cfg)
		st    Stats
		cmErr error
		shErr error
	)
	for {
		acq := dist.Next(pool.GroupIndex())
		if acq.Status == cells.Exhausted {
			break
		}
		// A failed group keeps exchanging changes until the cells run out.
		if acq.Status == cells.Acquired && shErr == nil {
			shErr = a.shakeCell(k, pool, cs, acq.Cell, step, beta, &st)
		}

		// Every process exchanges its changes, even without a cell.
		err := cs.DistributeAndApply(pool)
		if err != nil && cmErr == nil {
			cmErr = err
		}
		cs.Reset()
		dist.EndRound()
	}
	if !pool.AllTrue(procpool.World, shErr == nil) {
		if shErr == nil {
			shErr = errors.New("shake failed on another process")
		}
		return Stats{}, fmt.Errorf("shakeCell: %w", shErr)
	}
	if !pool.AllTrue(procpool.World, cmErr == nil) {
		if cmErr == nil {
			cmErr = errors.New("change distribution failed on another process")
		}
		return Stats{}, fmt.Errorf("DistributeAndApply: %w", cmErr)
	}

	counts := []int{st.Accepted, st.Tried}
	pool.AllSumInt(procpool.Leaders, counts)
	delta := []float64{st.Delta}
	pool.AllSum(procpool.Leaders, delta)

	if pool.IsGroupLeader() && counts[1] > 0 {
		rate := float64(counts[0]) / float64(counts[1])
		step *= rate / a.TargetAcceptanceRate
		step = math.Max(a.StepSizeMin, math.Min(a.StepSizeMax, step))
	}

	// Members of a group take the totals of their leader.
	res := []float64{step, float64(counts[0]), float64(counts[1]), delta[0]}
	pool.Broadcast(procpool.Group, 0, res)
	st = Stats{StepSize: res[0], Accepted: int(res[1]), Tried: int(res[2]), Delta: res[3]}

	cfg.Data.Set(StepSizeItem, st.StepSize, true)
	deltas, _, err := store.Realise(cfg.Data, EnergyDeltaItem, true, func() []float64 { return nil })
	if err != nil {
		return Stats{}, err
	}
	cfg.Data.Set(EnergyDeltaItem, append(deltas, st.Delta), true)

	if st.Accepted > 0 {
		cfg.IncrementCoordinateVersion()
	}
	return st, nil
}

// shakeCell tries ShakesPerAtom moves on each atom of cell. Displacements
// and acceptance draws come from the shared stream of the group so that
// every member makes the same decisions. On error the atom being moved is
// put back and the moves accepted so far are kept.
func (a *AtomShake) shakeCell(k *kernel.Kernel, pool procpool.Pool, cs *changestore.Store, cell int, step, beta float64, st *Stats) error {
	cfg := k.Configuration()
	cs.AddCell(cell)

	for n := 0; n < cs.NTargets(); n++ {
		i := cs.Target(n)
		m := cfg.Atoms[i].Molecule

		inter := k.AtomEnergy(pool, procpool.Group, i)
		intra, err := k.MoleculeIntraEnergy(m)
		if err != nil {
			cs.StoreAndReset()
			return fmt.Errorf("MoleculeIntraEnergy: %w", err)
		}

		for s := 0; s < a.ShakesPerAtom; s++ {
			d := r3.Vec{
				X: pool.SharedPlusMinusOne() * step,
				Y: pool.SharedPlusMinusOne() * step,
				Z: pool.SharedPlusMinusOne() * step,
			}
			cfg.MoveAtom(i, r3.Add(cfg.Atoms[i].R, d))

			newInter := k.AtomEnergy(pool, procpool.Group, i)
			newIntra, err := k.MoleculeIntraEnergy(m)
			if err != nil {
				cs.Revert(n)
				cs.StoreAndReset()
				return fmt.Errorf("MoleculeIntraEnergy: %w", err)
			}
			delta := (newInter + newIntra) - (inter + intra)

			if Metropolis(delta, beta, pool.SharedRandom) {
				cs.Update(n)
				inter, intra = newInter, newIntra
				st.Delta += delta
				st.Accepted++
			} else {
				cs.Revert(n)
			}
			st.Tried++
		}
	}
	cs.StoreAndReset()
	return nil
}
