package cfg

import (
	"fmt"

	"github.com/kpotier/molrefine/pkg/atomshake"
	"github.com/kpotier/molrefine/pkg/energy"
	"github.com/kpotier/molrefine/pkg/forces"
	"github.com/kpotier/molrefine/pkg/md"
	"github.com/kpotier/molrefine/pkg/neutronsq"
	"github.com/kpotier/molrefine/pkg/optimise"
	"github.com/kpotier/molrefine/pkg/rdf"
	"github.com/kpotier/molrefine/pkg/sim"
)

// Launch returns the module of type name. The parameters of the module are
// read from the file located at path.
func Launch(name string, path string) (sim.Module, error) {
	var (
		err error
		mod sim.Module
	)

	switch name {
	case atomshake.Type:
		mod, err = atomshake.New(path)
	case md.Type:
		mod, err = md.New(path)
	case energy.Type:
		mod, err = energy.New(path)
	case forces.Type:
		mod, err = forces.New(path)
	case rdf.Type:
		mod, err = rdf.New(path)
	case neutronsq.Type:
		mod, err = neutronsq.New(path)
	case optimise.Type:
		mod, err = optimise.New(path)
	default:
		return nil, fmt.Errorf("module `%s` doesn't exist", name)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: New: %w", name, err)
	}
	return mod, nil
}
