package scheduler

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

func ids(stages []*Stage) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, s.ID)
	}
	return out
}

// TestDAGValidate tests DAG validation with various graph structures.
func TestDAGValidate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() *DAG
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddStage(&Stage{ID: "A"})
				dag.AddStage(&Stage{ID: "B", DependsOn: []string{"A"}})
				dag.AddStage(&Stage{ID: "C", DependsOn: []string{"B"}})
				return dag
			},
		},
		{
			name: "fan out",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddStage(&Stage{ID: "primary"})
				dag.AddStage(&Stage{ID: "centos", DependsOn: []string{"primary"}})
				dag.AddStage(&Stage{ID: "ubuntu", DependsOn: []string{"primary"}})
				return dag
			},
		},
		{
			name: "direct cycle",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddStage(&Stage{ID: "A", DependsOn: []string{"B"}})
				dag.AddStage(&Stage{ID: "B", DependsOn: []string{"A"}})
				return dag
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "missing dependency",
			setup: func() *DAG {
				dag := NewDAG()
				dag.AddStage(&Stage{ID: "A", DependsOn: []string{"ghost"}})
				return dag
			},
			wantErr:     true,
			errContains: "non-existent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := tt.setup().Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error containing %q, got nil", tt.errContains)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			for _, s := range tt.setup().Stages() {
				for _, dep := range s.DependsOn {
					if pos[dep] >= pos[s.ID] {
						t.Errorf("Stage %s ordered before its dependency %s: %v", s.ID, dep, order)
					}
				}
			}
		})
	}
}

func TestDAGAddStage_Duplicate(t *testing.T) {
	dag := NewDAG()
	if err := dag.AddStage(&Stage{ID: "A"}); err != nil {
		t.Fatalf("AddStage() error = %v", err)
	}
	if err := dag.AddStage(&Stage{ID: "A"}); err == nil {
		t.Error("Expected duplicate ID error")
	}
	if err := dag.AddStage(&Stage{Name: "anonymous"}); err == nil {
		t.Error("Expected missing ID error")
	}
}

// TestDAGEligible tests which stages become eligible after transitions.
func TestDAGEligible(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *DAG
		want  []string
	}{
		{
			name: "initial eligible",
			setup: func(t *testing.T) *DAG {
				return chain()
			},
			want: []string{"lint"},
		},
		{
			name: "success unlocks dependents",
			setup: func(t *testing.T) *DAG {
				dag := chain()
				mustRun(t, dag, "lint")
				mustSucceed(t, dag, "lint")
				return dag
			},
			want: []string{"static"},
		},
		{
			name: "soft failure allows",
			setup: func(t *testing.T) *DAG {
				dag := chain()
				mustRun(t, dag, "lint")
				if err := dag.MarkFailed("lint", errors.New("lint failed")); err != nil {
					t.Fatal(err)
				}
				return dag
			},
			want: []string{"static"},
		},
		{
			name: "hard failure blocks",
			setup: func(t *testing.T) *DAG {
				dag := chain()
				mustRun(t, dag, "lint")
				mustSucceed(t, dag, "lint")
				mustRun(t, dag, "static")
				if err := dag.MarkFailed("static", errors.New("vet failed")); err != nil {
					t.Fatal(err)
				}
				return dag
			},
			want: []string{},
		},
		{
			name: "skip treated as resolved",
			setup: func(t *testing.T) *DAG {
				dag := chain()
				mustRun(t, dag, "lint")
				mustSucceed(t, dag, "lint")
				mustRun(t, dag, "static")
				mustSucceed(t, dag, "static")
				if err := dag.MarkSkipped("fedora"); err != nil {
					t.Fatal(err)
				}
				return dag
			},
			want: []string{"centos", "ubuntu"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(tt.setup(t).Eligible())
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

// chain builds lint(soft) -> static(hard) -> fedora(hard) -> {centos, ubuntu}.
func chain() *DAG {
	dag := NewDAG()
	dag.AddStage(&Stage{ID: "lint", Role: RolePrecheck, FailureMode: FailSoft})
	dag.AddStage(&Stage{ID: "static", Role: RoleStatic, DependsOn: []string{"lint"}, FailureMode: FailHard})
	dag.AddStage(&Stage{ID: "fedora", Role: RolePrimary, DependsOn: []string{"static"}, FailureMode: FailHard, Gated: true})
	dag.AddStage(&Stage{ID: "centos", Role: RoleParallel, DependsOn: []string{"fedora"}, FailureMode: FailSoft, Gated: true})
	dag.AddStage(&Stage{ID: "ubuntu", Role: RoleParallel, DependsOn: []string{"fedora"}, FailureMode: FailSoft, Gated: true})
	return dag
}

func mustRun(t *testing.T, dag *DAG, id string) {
	t.Helper()
	if err := dag.MarkRunning(id); err != nil {
		t.Fatalf("MarkRunning(%s) error = %v", id, err)
	}
}

func mustSucceed(t *testing.T, dag *DAG, id string) {
	t.Helper()
	if err := dag.MarkSucceeded(id); err != nil {
		t.Fatalf("MarkSucceeded(%s) error = %v", id, err)
	}
}

// TestDAGMarkTransitions checks the state machine rules.
func TestDAGMarkTransitions(t *testing.T) {
	t.Run("running then success records duration", func(t *testing.T) {
		dag := chain()
		mustRun(t, dag, "lint")
		mustSucceed(t, dag, "lint")

		stage, ok := dag.Get("lint")
		if !ok {
			t.Fatal("Expected stage to exist")
		}
		if stage.Status != StatusSucceeded || stage.Started.IsZero() {
			t.Errorf("Unexpected stage state: %+v", stage)
		}
	})

	t.Run("MarkFailed stores error", func(t *testing.T) {
		dag := chain()
		mustRun(t, dag, "lint")
		want := errors.New("boom")
		if err := dag.MarkFailed("lint", want); err != nil {
			t.Fatal(err)
		}
		stage, _ := dag.Get("lint")
		if !errors.Is(stage.Err, want) {
			t.Errorf("Err = %v, want %v", stage.Err, want)
		}
	})

	t.Run("terminal states are final", func(t *testing.T) {
		dag := chain()
		mustRun(t, dag, "lint")
		mustSucceed(t, dag, "lint")

		if err := dag.MarkFailed("lint", errors.New("late")); err == nil {
			t.Error("Expected error failing a succeeded stage")
		}
		if err := dag.MarkRunning("lint"); err == nil {
			t.Error("Expected error re-running a succeeded stage")
		}
		if err := dag.MarkSkipped("lint"); err == nil {
			t.Error("Expected error skipping a succeeded stage")
		}
	})

	t.Run("success requires running", func(t *testing.T) {
		dag := chain()
		if err := dag.MarkSucceeded("lint"); err == nil {
			t.Error("Expected error succeeding a pending stage")
		}
	})

	t.Run("skip requires pending", func(t *testing.T) {
		dag := chain()
		mustRun(t, dag, "lint")
		if err := dag.MarkSkipped("lint"); err == nil {
			t.Error("Expected error skipping a running stage")
		}
	})

	t.Run("unknown stage", func(t *testing.T) {
		dag := chain()
		if err := dag.MarkRunning("ghost"); err == nil {
			t.Error("Expected error for unknown stage")
		}
	})

	t.Run("Get returns a copy", func(t *testing.T) {
		dag := chain()
		stage, _ := dag.Get("centos")
		stage.DependsOn[0] = "mutated"
		stage.Status = StatusFailed

		again, _ := dag.Get("centos")
		if again.DependsOn[0] != "fedora" || again.Status != StatusPending {
			t.Errorf("DAG state mutated through copy: %+v", again)
		}
	})
}

func TestDAGStagesAndCount(t *testing.T) {
	dag := chain()
	if got := strings.Join(ids(dag.Stages()), ","); got != "lint,static,fedora,centos,ubuntu" {
		t.Errorf("Stages() order = %s", got)
	}

	deps := dag.Dependents("fedora")
	sort.Strings(deps)
	if strings.Join(deps, ",") != "centos,ubuntu" {
		t.Errorf("Dependents(fedora) = %v", deps)
	}

	mustRun(t, dag, "lint")
	counts := dag.Count()
	if counts[StatusRunning] != 1 || counts[StatusPending] != 4 {
		t.Errorf("Count() = %v", counts)
	}
}

func TestStatusAndRoleStrings(t *testing.T) {
	if StatusSucceeded.String() != "success" || StatusSkipped.String() != "skipped" {
		t.Error("unexpected status names")
	}
	if !StatusFailed.Terminal() || StatusRunning.Terminal() {
		t.Error("unexpected Terminal() results")
	}
	if !RoleStatic.Required() || !RolePrimary.Required() || RolePrecheck.Required() || RoleParallel.Required() {
		t.Error("unexpected Required() results")
	}
}
