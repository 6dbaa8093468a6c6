// Package cfg reads the run file and starts the simulation it describes. The
// run file is a TOML file holding the run control, the pair potentials, the
// atom types, the species, the configurations and the ordered list of
// modules.
package cfg

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/lammpstrj"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/species"

	"github.com/pelletier/go-toml"
	"gonum.org/v1/gonum/spatial/r3"
)

// Cfg is the content of the run file. It can be instanced through the New
// method.
type Cfg struct {
	Iterations       int    `toml:"run.iterations"`
	Processes        int    `toml:"run.processes"`
	Groups           int    `toml:"run.groups"`
	Strategy         string `toml:"run.strategy"`
	Seed             int64  `toml:"run.seed"`
	OutDir           string `toml:"run.out_dir"`
	Restart          string `toml:"run.restart"`
	RestartFrequency int    `toml:"run.restart_frequency"`

	Types          []species.AtomType `toml:"types"`
	Species        []Species          `toml:"species"`
	Configurations []Configuration    `toml:"configurations"`
	Modules        []Module           `toml:"modules"`

	// Pot is read from the pairpot keys of the run file.
	Pot  pairpot.Params `toml:"-"`
	path string         `toml:"-"`
}

// Species is a species of the run file. Terms list the indexes of their
// atoms (from 0) followed by their functional form.
type Species struct {
	Name      string  `toml:"name"`
	Scale14   float64 `toml:"scale14"`
	Atoms     []Atom  `toml:"atoms"`
	Bonds     []Term  `toml:"bonds"`
	Angles    []Term  `toml:"angles"`
	Torsions  []Term  `toml:"torsions"`
	Impropers []Term  `toml:"impropers"`
}

// Atom is an atom of a species: the name of its type and its position.
type Atom struct {
	Type string    `toml:"type"`
	R    []float64 `toml:"r"`
}

// Term is a bond, an angle, a torsion or an improper.
type Term struct {
	Atoms  []int     `toml:"atoms"`
	Form   string    `toml:"form"`
	Params []float64 `toml:"params"`
}

// Configuration is a configuration of the run file. When Input is set, the
// coordinates and the box lengths are read from the frame InputFrame (from
// 0, negative for the last one) of a LAMMPS trajectory.
type Configuration struct {
	Name        string      `toml:"name"`
	Components  []Component `toml:"components"`
	Density     float64     `toml:"density"`
	DensityUnit string      `toml:"density_unit"`
	Lengths     []float64   `toml:"lengths"`
	Angles      []float64   `toml:"angles"`
	NonPeriodic bool        `toml:"non_periodic"`
	Cutoff      float64     `toml:"cutoff"`
	Temperature float64     `toml:"temperature"`
	Seed        int64       `toml:"seed"`
	Input       string      `toml:"input"`
	InputFrame  int         `toml:"input_frame"`
}

// Component is a species and its population.
type Component struct {
	Species    string `toml:"species"`
	Population int    `toml:"population"`
}

// Module is a stage of the run. Its parameters are read from File, or from
// the run file itself when File is empty. An empty Configurations list
// targets every configuration.
type Module struct {
	Type           string   `toml:"type"`
	File           string   `toml:"file"`
	Configurations []string `toml:"configurations"`
	Frequency      int      `toml:"frequency"`
}

// New returns an instance of the Cfg structure. It opens and reads the run
// file located at path. The run file must use the TOML format.
func New(path string) (Cfg, error) {
	f, err := os.Open(path)
	if err != nil {
		return Cfg{}, err
	}
	defer f.Close()

	cfg := Cfg{Iterations: 1, Processes: 1, Groups: 1, Seed: 1, path: path}
	dec := toml.NewDecoder(f)
	err = dec.Decode(&cfg)
	if err != nil {
		return Cfg{}, err
	}

	cfg.Pot, err = pairpot.ReadParams(path)
	if err != nil {
		return Cfg{}, fmt.Errorf("pairpot.ReadParams: %w", err)
	}

	if len(cfg.Types) == 0 {
		return Cfg{}, errors.New("no atom types")
	}
	if len(cfg.Configurations) == 0 {
		return Cfg{}, sim.ErrNoConfiguration
	}
	if len(cfg.Modules) == 0 {
		return Cfg{}, errors.New("no modules")
	}
	_, err = sim.ParseStrategy(cfg.Strategy)
	if err != nil {
		return Cfg{}, err
	}
	return cfg, nil
}

// typeIndex returns the index of the atom type called name.
func (c Cfg) typeIndex(name string) (int, error) {
	for k, t := range c.Types {
		if t.Name == name {
			return k, nil
		}
	}
	return -1, fmt.Errorf("%w: `%s`", pairpot.ErrUnknownType, name)
}

// species builds the species of the run file.
func (c Cfg) species() (map[string]*species.Species, error) {
	all := make(map[string]*species.Species, len(c.Species))
	for _, def := range c.Species {
		if _, ok := all[def.Name]; ok {
			return nil, fmt.Errorf("two species are called `%s`", def.Name)
		}
		s, err := c.buildSpecies(def)
		if err != nil {
			return nil, fmt.Errorf("species `%s`: %w", def.Name, err)
		}
		all[def.Name] = s
	}
	return all, nil
}

func (c Cfg) buildSpecies(def Species) (*species.Species, error) {
	s := &species.Species{Name: def.Name}
	for k, a := range def.Atoms {
		t, err := c.typeIndex(a.Type)
		if err != nil {
			return nil, fmt.Errorf("atom %d: %w", k, err)
		}
		var r r3.Vec
		switch len(a.R) {
		case 0:
		case 3:
			r = r3.Vec{X: a.R[0], Y: a.R[1], Z: a.R[2]}
		default:
			return nil, fmt.Errorf("atom %d: position needs 3 coordinates (got %d)", k, len(a.R))
		}
		s.Atoms = append(s.Atoms, species.Atom{Type: t, R: r})
	}

	for k, b := range def.Bonds {
		if len(b.Atoms) != 2 {
			return nil, fmt.Errorf("bond %d: 2 atoms needed (got %d)", k, len(b.Atoms))
		}
		f, err := species.ParseBondForm(b.Form, b.Params)
		if err != nil {
			return nil, fmt.Errorf("bond %d: %w", k, err)
		}
		s.Bonds = append(s.Bonds, species.Bond{I: b.Atoms[0], J: b.Atoms[1], Form: f})
	}
	for k, a := range def.Angles {
		if len(a.Atoms) != 3 {
			return nil, fmt.Errorf("angle %d: 3 atoms needed (got %d)", k, len(a.Atoms))
		}
		f, err := species.ParseAngleForm(a.Form, a.Params)
		if err != nil {
			return nil, fmt.Errorf("angle %d: %w", k, err)
		}
		s.Angles = append(s.Angles, species.Angle{I: a.Atoms[0], J: a.Atoms[1], K: a.Atoms[2], Form: f})
	}
	torsions := func(terms []Term, kind string) ([]species.Torsion, error) {
		var out []species.Torsion
		for k, t := range terms {
			if len(t.Atoms) != 4 {
				return nil, fmt.Errorf("%s %d: 4 atoms needed (got %d)", kind, k, len(t.Atoms))
			}
			f, err := species.ParseTorsionForm(t.Form, t.Params)
			if err != nil {
				return nil, fmt.Errorf("%s %d: %w", kind, k, err)
			}
			out = append(out, species.Torsion{I: t.Atoms[0], J: t.Atoms[1], K: t.Atoms[2], L: t.Atoms[3], Form: f})
		}
		return out, nil
	}
	var err error
	s.Torsions, err = torsions(def.Torsions, "torsion")
	if err != nil {
		return nil, err
	}
	s.Impropers, err = torsions(def.Impropers, "improper")
	if err != nil {
		return nil, err
	}

	err = s.Finalise(def.Scale14)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Builder returns the builder of the configuration def.
func (c Cfg) Builder(def Configuration, all map[string]*species.Species) (configuration.Builder, error) {
	b := configuration.Builder{
		Name:        def.Name,
		Types:       c.Types,
		Density:     def.Density,
		DensityUnit: def.DensityUnit,
		NonPeriodic: def.NonPeriodic,
		Cutoff:      def.Cutoff,
		Temperature: def.Temperature,
		Seed:        def.Seed,
	}
	// Cells narrower than the potential range would miss pairs.
	if b.Cutoff > 0 && b.Cutoff < c.Pot.Range {
		b.Cutoff = c.Pot.Range
	}
	for _, comp := range def.Components {
		s, ok := all[comp.Species]
		if !ok {
			return b, fmt.Errorf("unknown species `%s`", comp.Species)
		}
		b.Components = append(b.Components, configuration.Component{Species: s, Population: comp.Population})
	}

	vec := func(v []float64, name string) ([3]float64, error) {
		switch len(v) {
		case 0:
			return [3]float64{}, nil
		case 3:
			return [3]float64{v[0], v[1], v[2]}, nil
		}
		return [3]float64{}, fmt.Errorf("%s needs 3 values (got %d)", name, len(v))
	}
	var err error
	b.Lengths, err = vec(def.Lengths, "lengths")
	if err != nil {
		return b, err
	}
	b.Angles, err = vec(def.Angles, "angles")
	if err != nil {
		return b, err
	}

	if def.Input == "" {
		return b, nil
	}
	if def.Density > 0 {
		return b, errors.New("density and input are exclusive")
	}
	fr, err := lammpstrj.ReadFrame(def.Input, def.InputFrame)
	if err != nil {
		return b, fmt.Errorf("lammpstrj.ReadFrame: %w", err)
	}
	err = c.checkFrame(b, fr)
	if err != nil {
		return b, fmt.Errorf("`%s`: %w", def.Input, err)
	}
	b.Lengths = fr.Lengths
	b.Coordinates = fr.R
	return b, nil
}

// checkFrame verifies that the atoms of the frame match the atoms of the
// builder. Numeric types are not checked.
func (c Cfg) checkFrame(b configuration.Builder, fr *lammpstrj.Frame) error {
	var i int
	for _, comp := range b.Components {
		for n := 0; n < comp.Population; n++ {
			for _, a := range comp.Species.Atoms {
				if i >= len(fr.R) {
					return fmt.Errorf("%d atoms in the frame, more expected", len(fr.R))
				}
				name := fr.Types[i]
				if _, err := strconv.Atoi(name); name != "" && err != nil {
					t := c.Types[a.Type]
					if name != t.Name && name != t.Element {
						return fmt.Errorf("atom %d is `%s` in the frame and `%s` in the configuration", i, name, t.Name)
					}
				}
				i++
			}
		}
	}
	if i != len(fr.R) {
		return fmt.Errorf("%d atoms in the frame, %d expected", len(fr.R), i)
	}
	return nil
}

// Setup returns the setup of the simulation described by the run file.
func (c Cfg) Setup(log *log.Logger) (sim.Setup, error) {
	strategy, err := sim.ParseStrategy(c.Strategy)
	if err != nil {
		return sim.Setup{}, err
	}
	s := sim.Setup{
		Log:              log,
		Iterations:       c.Iterations,
		Processes:        c.Processes,
		Groups:           c.Groups,
		Strategy:         strategy,
		Seed:             c.Seed,
		OutDir:           c.OutDir,
		Restart:          c.Restart,
		RestartFrequency: c.RestartFrequency,
	}

	s.Pot, err = pairpot.New(c.Pot, c.Types)
	if err != nil {
		return sim.Setup{}, fmt.Errorf("pairpot.New: %w", err)
	}

	all, err := c.species()
	if err != nil {
		return sim.Setup{}, err
	}
	for _, def := range c.Configurations {
		b, err := c.Builder(def, all)
		if err != nil {
			return sim.Setup{}, fmt.Errorf("configuration `%s`: %w", def.Name, err)
		}
		cf, err := b.Build()
		if err != nil {
			return sim.Setup{}, fmt.Errorf("configuration `%s`: Build: %w", def.Name, err)
		}
		s.Configurations = append(s.Configurations, cf)
	}

	for k, m := range c.Modules {
		path := m.File
		if path == "" {
			path = c.path
		}
		mod, err := Launch(m.Type, path)
		if err != nil {
			return sim.Setup{}, fmt.Errorf("module %d: %w", k, err)
		}
		s.Stages = append(s.Stages, sim.Stage{Module: mod, Configurations: m.Configurations, Frequency: m.Frequency})
	}
	return s, nil
}

// Start builds the simulation and runs it. It is a thread blocking method.
func (c Cfg) Start(log *log.Logger) error {
	s, err := c.Setup(log)
	if err != nil {
		return fmt.Errorf("Setup: %w", err)
	}
	if s.OutDir != "" {
		err = os.MkdirAll(s.OutDir, 0755)
		if err != nil {
			return err
		}
	}
	for _, cf := range s.Configurations {
		log.Printf("Configuration `%s`: %d atoms, %d molecules, volume %.3f A3", cf.Name, len(cf.Atoms), len(cf.Molecules), cf.Box.Volume())
	}
	return sim.Run(s)
}
