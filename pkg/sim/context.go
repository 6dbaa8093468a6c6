package sim

import (
	"errors"
	"log"
	"path/filepath"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/procpool"
)

// ErrNoConfiguration is returned when a module runs without a target
// configuration.
var ErrNoConfiguration = errors.New("no target configuration")

// Module is a stage of the simulation. Process runs on every process that
// works on the configuration of the context, and must return the same error
// on all of them.
type Module interface {
	Name() string
	Process(ctx *Context) error
}

// Context is what a module sees of the simulation: the copy of the
// configuration owned by the calling process and the pool of processes that
// work on it.
type Context struct {
	Log       *log.Logger
	Pool      procpool.Pool
	Cfg       *configuration.Configuration
	Pot       *pairpot.Map
	Iteration int

	// OutDir is where modules write their files.
	OutDir string
}

// Printf prints on the master process only.
func (c *Context) Printf(format string, v ...interface{}) {
	if c.Log == nil || !c.Pool.IsMaster() {
		return
	}
	c.Log.Printf(format, v...)
}

// Path returns the path of an output file of the configuration.
func (c *Context) Path(name string) string {
	return filepath.Join(c.OutDir, c.Cfg.Name+"."+name)
}

// Check returns ErrNoConfiguration if the context has no configuration.
func (c *Context) Check() error {
	if c.Cfg == nil {
		return ErrNoConfiguration
	}
	return nil
}

// Master runs fn on the master process only. The error of fn is returned on
// every process of the pool.
func (c *Context) Master(fn func() error) error {
	var err error
	if c.Pool.IsMaster() {
		err = fn()
	}
	if !c.Pool.AllTrue(procpool.World, err == nil) {
		if err == nil {
			err = errors.New("failed on the master process")
		}
		return err
	}
	return nil
}
