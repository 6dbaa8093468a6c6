package sim

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/restart"
	"github.com/kpotier/molrefine/pkg/store"
)

// IterationItem is the number of iterations a configuration went through.
const IterationItem = "Iteration"

// Strategy tells how processes are shared between configurations.
type Strategy int

// Strategies. With Sequential, every process works on every configuration in
// turn. With Even, processes are split evenly between the configurations,
// which are worked on at the same time.
const (
	Sequential Strategy = iota
	Even
)

func (s Strategy) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case Even:
		return "even"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy returns the strategy called s.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "sequential":
		return Sequential, nil
	case "even":
		return Even, nil
	}
	return Sequential, fmt.Errorf("unknown strategy `%s`", s)
}

// Stage is a module and the configurations it works on. An empty
// Configurations list means every configuration. The module runs every
// Frequency iterations (every iteration if Frequency < 2).
type Stage struct {
	Module         Module
	Configurations []string
	Frequency      int
}

func (s Stage) runs(cfg string, iteration int) bool {
	if s.Frequency > 1 && iteration%s.Frequency != 0 {
		return false
	}
	if len(s.Configurations) == 0 {
		return true
	}
	for _, name := range s.Configurations {
		if name == cfg {
			return true
		}
	}
	return false
}

// Setup describes a run. Processes are goroutines cooperating through a
// procpool; each one owns a copy of the configurations it works on. Groups
// is the number of groups of each pool. The restart file, if set, is read
// before the first iteration when it exists and written every
// RestartFrequency iterations (every iteration if RestartFrequency < 2).
type Setup struct {
	Log            *log.Logger
	Configurations []*configuration.Configuration
	Pot            *pairpot.Map
	Stages         []Stage

	Iterations int
	Processes  int
	Groups     int
	Strategy   Strategy
	Seed       int64

	OutDir           string
	Restart          string
	RestartFrequency int
}

// pool is a set of processes working on the same configurations.
type pool struct {
	procs []*procpool.Local
	// cfgs[p] are the copies of the configurations owned by process p.
	cfgs [][]*configuration.Configuration
}

// Check validates the setup.
func (s *Setup) Check() error {
	if len(s.Configurations) == 0 {
		return ErrNoConfiguration
	}
	if s.Pot == nil {
		return errors.New("no pair potentials")
	}
	if s.Iterations < 0 {
		return fmt.Errorf("negative number of iterations (%d)", s.Iterations)
	}
	if s.Processes < 1 {
		return fmt.Errorf("at least one process is needed (got %d)", s.Processes)
	}
	if s.Strategy == Even && s.Processes < len(s.Configurations) {
		return fmt.Errorf("%d processes for %d configurations", s.Processes, len(s.Configurations))
	}
	if s.Groups < 1 {
		return fmt.Errorf("at least one group is needed (got %d)", s.Groups)
	}
	names := make(map[string]bool, len(s.Configurations))
	for _, c := range s.Configurations {
		if names[c.Name] {
			return fmt.Errorf("two configurations are called `%s`", c.Name)
		}
		names[c.Name] = true
	}
	for k, st := range s.Stages {
		for _, name := range st.Configurations {
			if !names[name] {
				return fmt.Errorf("stage %d (%s): unknown configuration `%s`", k, st.Module.Name(), name)
			}
		}
	}
	return nil
}

func (s *Setup) printf(format string, v ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, v...)
	}
}

// pools splits the processes according to the strategy. The first process
// of every pool works on the configurations of the setup, the others on
// copies.
func (s *Setup) pools() ([]*pool, error) {
	var (
		sets  [][]*configuration.Configuration
		sizes []int
	)
	switch s.Strategy {
	case Sequential:
		sets = [][]*configuration.Configuration{s.Configurations}
		sizes = []int{s.Processes}
	case Even:
		n := len(s.Configurations)
		for k, c := range s.Configurations {
			sets = append(sets, []*configuration.Configuration{c})
			size := s.Processes / n
			if k < s.Processes%n {
				size++
			}
			sizes = append(sizes, size)
		}
	default:
		return nil, fmt.Errorf("unknown strategy %v", s.Strategy)
	}

	pools := make([]*pool, len(sets))
	for k, set := range sets {
		groups := s.Groups
		if groups > sizes[k] {
			groups = sizes[k]
		}
		procs, err := procpool.NewLocal(sizes[k], groups, s.Seed+1000003*int64(k))
		if err != nil {
			return nil, err
		}
		pl := &pool{procs: procs, cfgs: make([][]*configuration.Configuration, len(procs))}
		pl.cfgs[0] = set
		for p := 1; p < len(procs); p++ {
			pl.cfgs[p] = make([]*configuration.Configuration, len(set))
			for c := range set {
				pl.cfgs[p][c] = set[c].Clone()
			}
		}
		pools[k] = pl
	}
	return pools, nil
}

// Run performs the iterations of the setup.
func Run(s Setup) error {
	err := s.Check()
	if err != nil {
		return err
	}

	if s.Restart != "" {
		_, err := os.Stat(s.Restart)
		if err == nil {
			err = restart.Read(s.Restart, s.Configurations)
			if err != nil {
				return fmt.Errorf("restart.Read: %w", err)
			}
			s.printf("Restart file `%s` read", s.Restart)
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	pools, err := s.pools()
	if err != nil {
		return fmt.Errorf("pools: %w", err)
	}
	s.printf("%d processes, %d pools (strategy %s)", s.Processes, len(pools), s.Strategy)

	for it := 0; it < s.Iterations; it++ {
		err = s.iterate(pools)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", it+1, err)
		}

		if s.Restart != "" && (s.RestartFrequency < 2 || (it+1)%s.RestartFrequency == 0 || it == s.Iterations-1) {
			err = restart.Write(s.Restart, s.Configurations)
			if err != nil {
				return fmt.Errorf("restart.Write: %w", err)
			}
		}
	}
	return nil
}

// iterate runs one iteration on every pool, all pools at the same time.
func (s *Setup) iterate(pools []*pool) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, pl := range pools {
		for p := range pl.procs {
			wg.Add(1)
			go func(proc *procpool.Local, cfgs []*configuration.Configuration) {
				defer wg.Done()
				err := s.process(proc, cfgs)
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(pl.procs[p], pl.cfgs[p])
		}
	}
	wg.Wait()

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// process runs the stages of one iteration on the copies owned by proc.
func (s *Setup) process(proc procpool.Pool, cfgs []*configuration.Configuration) error {
	for _, cfg := range cfgs {
		done, _ := store.Get[int](cfg.Data, IterationItem)
		iteration := done + 1

		ctx := &Context{Log: s.Log, Pool: proc, Cfg: cfg, Pot: s.Pot, Iteration: iteration, OutDir: s.OutDir}
		ctx.Printf("Iteration %d, configuration `%s`", iteration, cfg.Name)
		for _, st := range s.Stages {
			if !st.runs(cfg.Name, iteration) {
				continue
			}
			err := st.Module.Process(ctx)
			if err != nil {
				return fmt.Errorf("configuration `%s`, %s: %w", cfg.Name, st.Module.Name(), err)
			}
		}
		cfg.Data.Set(IterationItem, iteration, true)
	}
	return nil
}
