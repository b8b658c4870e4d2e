package scheduler

import (
	"fmt"

	"github.com/aristath/distrogate/internal/config"
)

// Stage ID prefixes.
const (
	precheckPrefix = "precheck/"
	staticPrefix   = "static/"
	distroPrefix   = "distro/"
)

// DistroStageID returns the ID of the stage testing distro.
func DistroStageID(distro string) string {
	return distroPrefix + distro
}

// BuildPlan lays out the pipeline described by cfg:
//
//	precheck_1 -> ... -> precheck_n -> static -> primary -> {parallel...}
//
// Prechecks fail soft, the static check and the primary stage fail hard,
// and the distro stages are gated by the skip decision.
func BuildPlan(cfg *config.Config) (*DAG, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dag := NewDAG()
	var prev []string

	add := func(stage *Stage) error {
		stage.DependsOn = prev
		if err := dag.AddStage(stage); err != nil {
			return err
		}
		prev = []string{stage.ID}
		return nil
	}

	for _, pc := range cfg.Prechecks {
		if err := add(&Stage{
			ID:          precheckPrefix + pc.Name,
			Name:        pc.Name,
			Role:        RolePrecheck,
			Run:         pc.Run,
			FailureMode: FailSoft,
		}); err != nil {
			return nil, err
		}
	}

	staticName := cfg.StaticCheck.Name
	if staticName == "" {
		staticName = "static-check"
	}
	if err := add(&Stage{
		ID:          staticPrefix + staticName,
		Name:        staticName,
		Role:        RoleStatic,
		Run:         cfg.StaticCheck.Run,
		FailureMode: FailHard,
	}); err != nil {
		return nil, err
	}

	if err := add(&Stage{
		ID:          DistroStageID(cfg.PrimaryDistro),
		Name:        cfg.PrimaryDistro,
		Role:        RolePrimary,
		Distro:      cfg.PrimaryDistro,
		Gated:       true,
		FailureMode: FailHard,
	}); err != nil {
		return nil, err
	}

	primary := prev
	for _, distro := range cfg.ParallelDistros {
		if err := dag.AddStage(&Stage{
			ID:          DistroStageID(distro),
			Name:        distro,
			Role:        RoleParallel,
			Distro:      distro,
			DependsOn:   primary,
			Gated:       true,
			FailureMode: FailSoft,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := dag.Validate(); err != nil {
		return nil, err
	}
	return dag, nil
}
