package config

import (
	"errors"
	"fmt"
)

// Validate checks the stage layout and the action table for mistakes that
// would otherwise only surface halfway through a run.
func (c *Config) Validate() error {
	var errs []error

	if c.PrimaryDistro == "" {
		errs = append(errs, errors.New("primary_distro is required"))
	}
	if c.StaticCheck.Run == "" {
		errs = append(errs, errors.New("static_check.run is required"))
	}

	seen := map[string]bool{c.PrimaryDistro: true}
	for _, distro := range c.ParallelDistros {
		if distro == "" {
			errs = append(errs, errors.New("parallel_distros contains an empty name"))
			continue
		}
		if seen[distro] {
			errs = append(errs, fmt.Errorf("distro %q is listed more than once", distro))
		}
		seen[distro] = true
	}

	prechecks := make(map[string]int, len(c.Prechecks))
	for i, precheck := range c.Prechecks {
		if precheck.Name == "" {
			errs = append(errs, fmt.Errorf("prechecks[%d] has no name", i))
		} else if first, dup := prechecks[precheck.Name]; dup {
			errs = append(errs, fmt.Errorf("prechecks[%d]: name %q is already used by prechecks[%d]", i, precheck.Name, first))
		} else {
			prechecks[precheck.Name] = i
		}
		if precheck.Run == "" {
			errs = append(errs, fmt.Errorf("prechecks[%d] has no run command", i))
		}
	}

	for name, action := range c.Actions {
		switch action.Kind {
		case ActionKindCommand:
			if action.Run == "" {
				errs = append(errs, fmt.Errorf("action %q: command actions need run", name))
			}
		case ActionKindDocker:
			if action.Image == "" {
				errs = append(errs, fmt.Errorf("action %q: docker actions need image", name))
			}
		default:
			errs = append(errs, fmt.Errorf("action %q: unknown kind %q", name, action.Kind))
		}
	}

	return errors.Join(errs...)
}
