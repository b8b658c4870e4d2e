package pipeline

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/aristath/distrogate/internal/gate"
	"github.com/aristath/distrogate/internal/scheduler"
)

func stage(name string, role scheduler.Role, status scheduler.Status) StageResult {
	return StageResult{ID: name, Name: name, Role: role, Status: status}
}

func TestComputeOutcome(t *testing.T) {
	tests := []struct {
		name   string
		stages []StageResult
		want   Outcome
	}{
		{
			name: "all passed",
			stages: []StageResult{
				stage("lint", scheduler.RolePrecheck, scheduler.StatusSucceeded),
				stage("static", scheduler.RoleStatic, scheduler.StatusSucceeded),
				stage("fedora", scheduler.RolePrimary, scheduler.StatusSucceeded),
				stage("centos", scheduler.RoleParallel, scheduler.StatusSucceeded),
			},
			want: Success,
		},
		{
			name: "precheck failure is not fatal",
			stages: []StageResult{
				stage("lint", scheduler.RolePrecheck, scheduler.StatusFailed),
				stage("static", scheduler.RoleStatic, scheduler.StatusSucceeded),
				stage("fedora", scheduler.RolePrimary, scheduler.StatusSucceeded),
			},
			want: Success,
		},
		{
			name: "gate skipped",
			stages: []StageResult{
				stage("static", scheduler.RoleStatic, scheduler.StatusSucceeded),
				stage("fedora", scheduler.RolePrimary, scheduler.StatusSkipped),
				stage("centos", scheduler.RoleParallel, scheduler.StatusSkipped),
			},
			want: SkippedEarly,
		},
		{
			name: "primary failed, parallel pending",
			stages: []StageResult{
				stage("static", scheduler.RoleStatic, scheduler.StatusSucceeded),
				stage("fedora", scheduler.RolePrimary, scheduler.StatusFailed),
				stage("centos", scheduler.RoleParallel, scheduler.StatusPending),
			},
			want: Failure,
		},
		{
			name: "one parallel member failed",
			stages: []StageResult{
				stage("fedora", scheduler.RolePrimary, scheduler.StatusSucceeded),
				stage("centos", scheduler.RoleParallel, scheduler.StatusFailed),
				stage("ubuntu", scheduler.RoleParallel, scheduler.StatusSucceeded),
			},
			want: Failure,
		},
		{
			name: "interrupted run",
			stages: []StageResult{
				stage("static", scheduler.RoleStatic, scheduler.StatusSucceeded),
				stage("fedora", scheduler.RolePrimary, scheduler.StatusPending),
			},
			want: Failure,
		},
		{
			name:   "no stages",
			stages: nil,
			want:   Success,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeOutcome(tt.stages); got != tt.want {
				t.Errorf("ComputeOutcome() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestProperty_FailureDominates checks that any failed non-precheck stage
// makes the outcome Failure regardless of the other stages.
func TestProperty_FailureDominates(t *testing.T) {
	roles := []scheduler.Role{scheduler.RolePrecheck, scheduler.RoleStatic, scheduler.RolePrimary, scheduler.RoleParallel}
	statuses := []scheduler.Status{scheduler.StatusSucceeded, scheduler.StatusFailed, scheduler.StatusSkipped}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		stages := make([]StageResult, 0, n+1)
		for i := 0; i < n; i++ {
			stages = append(stages, StageResult{
				Name:   "s",
				Role:   rapid.SampledFrom(roles).Draw(t, "role"),
				Status: rapid.SampledFrom(statuses).Draw(t, "status"),
			})
		}

		failed := StageResult{Name: "f", Role: rapid.SampledFrom(roles[1:]).Draw(t, "failedRole"), Status: scheduler.StatusFailed}
		pos := rapid.IntRange(0, len(stages)).Draw(t, "pos")
		stages = append(stages[:pos], append([]StageResult{failed}, stages[pos:]...)...)

		if got := ComputeOutcome(stages); got != Failure {
			t.Fatalf("ComputeOutcome() = %s with a failed %s stage", got, failed.Role)
		}
	})
}

func TestReport_FailuresAndWarnings(t *testing.T) {
	r := &Report{
		Decision: gate.Decision{Checked: true},
		Stages: []StageResult{
			{Name: "commit-lint", Role: scheduler.RolePrecheck, Status: scheduler.StatusFailed,
				Err: &StageError{Stage: "commit-lint", Role: scheduler.RolePrecheck, Err: errors.New("subject too long")}},
			{Name: "static-check", Role: scheduler.RoleStatic, Status: scheduler.StatusSucceeded},
			{Name: "fedora", Role: scheduler.RolePrimary, Status: scheduler.StatusSucceeded, Unknown: []string{"snap"}},
			{Name: "centos", Role: scheduler.RoleParallel, Status: scheduler.StatusFailed,
				Err: &StageError{Stage: "centos", Role: scheduler.RoleParallel, Err: errors.New("exit status 2")}},
		},
	}
	r.Outcome = ComputeOutcome(r.Stages)

	failures := r.Failures()
	if len(failures) != 1 || failures[0] != "centos: exit status 2" {
		t.Errorf("Failures() = %q", failures)
	}

	warnings := r.Warnings()
	want := []string{"precheck commit-lint: subject too long", `fedora: unknown matrix option "snap"`}
	if strings.Join(warnings, "|") != strings.Join(want, "|") {
		t.Errorf("Warnings() = %q, want %q", warnings, want)
	}
}

func TestReport_Summary(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{
			name: "success",
			report: Report{Outcome: Success, Started: started, Finished: started.Add(1500 * time.Millisecond), Stages: []StageResult{
				stage("static", scheduler.RoleStatic, scheduler.StatusSucceeded),
			}},
			want: "success: all stages passed (1 succeeded, 0 failed, 0 skipped) in 1.5s",
		},
		{
			name: "skipped",
			report: Report{Outcome: SkippedEarly, Started: started, Finished: started.Add(time.Second), Stages: []StageResult{
				stage("static", scheduler.RoleStatic, scheduler.StatusSucceeded),
				stage("fedora", scheduler.RolePrimary, scheduler.StatusSkipped),
			}},
			want: `skipped: "skip-ci" label present, distro stages skipped (1 succeeded, 0 failed, 1 skipped) in 1s`,
		},
		{
			name: "failure",
			report: Report{Outcome: Failure, Started: started, Finished: started.Add(2 * time.Second), Stages: []StageResult{
				stage("fedora", scheduler.RolePrimary, scheduler.StatusFailed),
				stage("centos", scheduler.RoleParallel, scheduler.StatusPending),
			}},
			want: "failure: 1 failed, 1 not run (0 succeeded, 1 failed, 0 skipped) in 2s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReport_Render(t *testing.T) {
	r := &Report{
		RunID:      "run-1",
		Repository: "repoX",
		PullID:     "42",
		Decision:   gate.Decision{Checked: true},
		Outcome:    Failure,
		Stages: []StageResult{
			{Name: "static-check", Role: scheduler.RoleStatic, Status: scheduler.StatusSucceeded, Duration: time.Second},
			{Name: "fedora", Role: scheduler.RolePrimary, Status: scheduler.StatusFailed,
				Err:       &StageError{Stage: "fedora", Role: scheduler.RolePrimary, Err: errors.New("exit status 2")},
				SubStages: []SubStageResult{{Option: "docker", Err: errors.New("exit status 2")}}},
			{Name: "centos", Role: scheduler.RoleParallel, Status: scheduler.StatusPending},
		},
	}

	out := r.Render()
	for _, want := range []string{"repoX#42", "gate: run", "STAGE", "static-check", "docker failed", "pending", "FAIL  fedora: exit status 2", "failure:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := &StageError{Stage: "fedora", Role: scheduler.RolePrimary, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("StageError should unwrap to its cause")
	}
	if err.Error() != `primary stage "fedora" failed: boom` {
		t.Errorf("Error() = %q", err.Error())
	}
}
