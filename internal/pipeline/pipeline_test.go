package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aristath/distrogate/internal/action"
	"github.com/aristath/distrogate/internal/config"
	"github.com/aristath/distrogate/internal/events"
	"github.com/aristath/distrogate/internal/gate"
	"github.com/aristath/distrogate/internal/matrix"
	"github.com/aristath/distrogate/internal/scheduler"
)

// fakeInvoker records every action invocation as "option@distro".
type fakeInvoker struct {
	mu    sync.Mutex
	known map[string]bool
	fail  map[string]error // keyed by "option@distro"
	delay time.Duration
	calls []string
	dirs  map[string]string // Workdir by "option@distro"
}

func newFakeInvoker(known ...string) *fakeInvoker {
	f := &fakeInvoker{known: map[string]bool{}, fail: map[string]error{}, dirs: map[string]string{}}
	for _, k := range known {
		f.known[k] = true
	}
	return f
}

func (f *fakeInvoker) Known(name string) bool { return f.known[name] }

func (f *fakeInvoker) Invoke(_ context.Context, name string, inv action.Invocation) error {
	key := name + "@" + inv.Distro
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.dirs[key] = inv.Workdir
	err := f.fail[key]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if inv.Output != nil {
		inv.Output("running " + key)
	}
	if err != nil {
		return &action.InvocationError{Action: name, Repo: inv.Repo, Distro: inv.Distro, Err: err}
	}
	return nil
}

func (f *fakeInvoker) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeCommands fails the named precheck/static stages and counts runs.
type fakeCommands struct {
	fail map[string]error
	runs atomic.Int32
}

func (f *fakeCommands) factory(stage *scheduler.Stage) action.Action {
	return action.Func(func(context.Context, action.Invocation) error {
		f.runs.Add(1)
		if err := f.fail[stage.Name]; err != nil {
			return err
		}
		return nil
	})
}

func labels(names ...string) (gate.LabelFetcher, *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context, string, string) (map[string]struct{}, error) {
		calls.Add(1)
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		return set, nil
	}, &calls
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Prechecks = []config.StageConfig{{Name: "commit-lint", Run: "true"}}
	cfg.StaticCheck = config.StageConfig{Name: "static-check", Run: "true"}
	cfg.PrimaryDistro = "fedora"
	cfg.ParallelDistros = []string{"centos", "ubuntu"}
	return cfg
}

const allDistrosMatrix = `
repoX:
  fedora: {docker: true}
  centos: {docker: true}
  ubuntu: {docker: true}
`

type harness struct {
	pipeline *Pipeline
	invoker  *fakeInvoker
	commands *fakeCommands
	logs     *observer.ObservedLogs
	events   <-chan events.Event
}

func newHarness(t *testing.T, fetch gate.LabelFetcher) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	h := &harness{
		invoker:  newFakeInvoker("docker"),
		commands: &fakeCommands{fail: map[string]error{}},
		logs:     logs,
		events:   bus.SubscribeAll(1024),
	}
	h.pipeline = &Pipeline{
		Config:   testConfig(),
		Labels:   fetch,
		Actions:  h.invoker,
		Commands: h.commands.factory,
		Bus:      bus,
		Logger:   zap.New(core),
	}
	return h
}

func creds(matrixDoc string) Input {
	return Input{HasCredentials: true, Repository: "repoX", PullID: "42", MatrixSource: []byte(matrixDoc)}
}

func statuses(r *Report) map[string]scheduler.Status {
	out := make(map[string]scheduler.Status, len(r.Stages))
	for _, s := range r.Stages {
		out[s.Name] = s.Status
	}
	return out
}

// The skip label skips every distro stage but the static check runs.
func TestRun_SkipLabelSkipsDistroStages(t *testing.T) {
	fetch, calls := labels("skip-ci", "bug")
	h := newHarness(t, fetch)

	report, err := h.pipeline.Run(context.Background(), creds(allDistrosMatrix))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("Expected exactly one label fetch, got %d", calls.Load())
	}
	if !report.Decision.Checked || !report.Decision.Skip {
		t.Errorf("Decision = %+v, want checked skip", report.Decision)
	}

	st := statuses(report)
	if st["static-check"] != scheduler.StatusSucceeded || st["commit-lint"] != scheduler.StatusSucceeded {
		t.Errorf("prechecks/static should still run: %v", st)
	}
	for _, distro := range []string{"fedora", "centos", "ubuntu"} {
		if st[distro] != scheduler.StatusSkipped {
			t.Errorf("%s = %s, want skipped", distro, st[distro])
		}
	}
	if report.Outcome != SkippedEarly {
		t.Errorf("Outcome = %s, want %s", report.Outcome, SkippedEarly)
	}
	if len(h.invoker.Calls()) != 0 {
		t.Errorf("Expected no actions, got %v", h.invoker.Calls())
	}
	if !strings.Contains(report.Summary(), "skip-ci") {
		t.Errorf("Summary should mention the label: %s", report.Summary())
	}
}

// Without credentials the gate is not checked and everything runs.
func TestRun_MissingCredentialsRunsEverything(t *testing.T) {
	fetch, calls := labels("skip-ci")
	h := newHarness(t, fetch)

	in := creds(allDistrosMatrix)
	in.HasCredentials = false
	report, err := h.pipeline.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls.Load() != 0 {
		t.Errorf("Label source must not be queried without credentials, got %d calls", calls.Load())
	}
	if report.Decision.Checked || report.Decision.Skip {
		t.Errorf("Decision = %+v, want unchecked", report.Decision)
	}
	if report.Outcome != Success {
		t.Errorf("Outcome = %s, want success", report.Outcome)
	}
	if got := len(h.invoker.Calls()); got != 3 {
		t.Errorf("Expected docker on 3 distros, got %v", h.invoker.Calls())
	}

	warned := h.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("skip gate not checked, running all stages")
	if warned.Len() != 1 {
		t.Errorf("Expected one gate warning, got %d", warned.Len())
	}
	if w := report.Warnings(); len(w) == 0 || !strings.Contains(w[0], "credentials") {
		t.Errorf("Warnings() = %v", w)
	}
}

// Only the matrix entry for (repoX, fedora) invokes an action.
func TestRun_MatrixSelectsActions(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)
	h.pipeline.Config.ParallelDistros = []string{"centos"}

	report, err := h.pipeline.Run(context.Background(), creds("repoX:\n  fedora:\n    docker: true\n"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	calls := h.invoker.Calls()
	if len(calls) != 1 || calls[0] != "docker@fedora" {
		t.Errorf("Expected exactly [docker@fedora], got %v", calls)
	}
	if report.Outcome != Success {
		t.Errorf("Outcome = %s", report.Outcome)
	}
	if st := statuses(report); st["centos"] != scheduler.StatusSucceeded {
		t.Errorf("centos with no entry should pass trivially, got %s", st["centos"])
	}
}

// A primary failure leaves the parallel group pending.
func TestRun_PrimaryFailureHaltsParallel(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)
	h.invoker.fail["docker@fedora"] = errors.New("exit status 2")

	report, err := h.pipeline.Run(context.Background(), creds(allDistrosMatrix))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st := statuses(report)
	if st["fedora"] != scheduler.StatusFailed {
		t.Errorf("fedora = %s, want failure", st["fedora"])
	}
	if st["centos"] != scheduler.StatusPending || st["ubuntu"] != scheduler.StatusPending {
		t.Errorf("parallel stages must stay pending: %v", st)
	}
	if report.Outcome != Failure {
		t.Errorf("Outcome = %s, want failure", report.Outcome)
	}

	failures := report.Failures()
	if len(failures) != 1 || !strings.HasPrefix(failures[0], "fedora:") || !strings.Contains(failures[0], "exit status 2") {
		t.Errorf("Failures() = %v", failures)
	}

	var stageErr *StageError
	for _, s := range report.Stages {
		if s.Name == "fedora" && !errors.As(s.Err, &stageErr) {
			t.Errorf("fedora error should be a *StageError, got %T", s.Err)
		}
	}
	var invErr *action.InvocationError
	if !errors.As(stageErr, &invErr) || invErr.Action != "docker" {
		t.Errorf("Expected wrapped *action.InvocationError, got %v", stageErr)
	}
}

// One failing sibling does not cancel the other.
func TestRun_ParallelFailureDoesNotCancelSiblings(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)
	h.invoker.fail["docker@centos"] = errors.New("exit status 1")
	h.invoker.delay = 20 * time.Millisecond

	report, err := h.pipeline.Run(context.Background(), creds(allDistrosMatrix))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st := statuses(report)
	if st["centos"] != scheduler.StatusFailed {
		t.Errorf("centos = %s, want failure", st["centos"])
	}
	if st["ubuntu"] != scheduler.StatusSucceeded {
		t.Errorf("ubuntu = %s, want success", st["ubuntu"])
	}
	if report.Outcome != Failure {
		t.Errorf("Outcome = %s, want failure", report.Outcome)
	}
}

func TestRun_StaticFailureHaltsDistroStages(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)
	h.commands.fail["static-check"] = errors.New("go vet: 3 issues")

	report, err := h.pipeline.Run(context.Background(), creds(allDistrosMatrix))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st := statuses(report)
	for _, distro := range []string{"fedora", "centos", "ubuntu"} {
		if st[distro] != scheduler.StatusPending {
			t.Errorf("%s = %s, want pending", distro, st[distro])
		}
	}
	if report.Outcome != Failure {
		t.Errorf("Outcome = %s, want failure", report.Outcome)
	}
	if f := report.Failures(); len(f) != 1 || !strings.Contains(f[0], "go vet") {
		t.Errorf("Failures() = %v", f)
	}
}

// The static check runs even when the skip label is present, and its failure still fails the run.
func TestRun_StaticFailureWithSkipLabel(t *testing.T) {
	fetch, _ := labels("skip-ci")
	h := newHarness(t, fetch)
	h.commands.fail["static-check"] = errors.New("lint")

	report, _ := h.pipeline.Run(context.Background(), creds(allDistrosMatrix))
	if report.Outcome != Failure {
		t.Errorf("Outcome = %s, want failure", report.Outcome)
	}
	if st := statuses(report); st["fedora"] != scheduler.StatusPending {
		t.Errorf("fedora = %s, want pending", st["fedora"])
	}
}

func TestRun_PrecheckFailureIsWarning(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)
	h.pipeline.Config.Prechecks = []config.StageConfig{
		{Name: "commit-lint", Run: "x"},
		{Name: "license", Run: "y"},
	}
	h.commands.fail["commit-lint"] = errors.New("subject too long")

	report, err := h.pipeline.Run(context.Background(), creds(allDistrosMatrix))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Outcome != Success {
		t.Errorf("Outcome = %s, want success", report.Outcome)
	}
	if h.commands.runs.Load() != 3 {
		t.Errorf("Expected both prechecks and static to run, got %d", h.commands.runs.Load())
	}
	if w := report.Warnings(); len(w) != 1 || !strings.Contains(w[0], "subject too long") {
		t.Errorf("Warnings() = %v", w)
	}
	if h.logs.FilterMessage("precheck failed, continuing").Len() != 1 {
		t.Error("Expected precheck failure warning in logs")
	}
}

func TestRun_GateFetchErrorIsFatal(t *testing.T) {
	fetchErr := errors.New("401 Bad credentials")
	h := newHarness(t, func(context.Context, string, string) (map[string]struct{}, error) {
		return nil, fetchErr
	})

	report, err := h.pipeline.Run(context.Background(), creds(allDistrosMatrix))
	if !errors.Is(err, ErrGateFetch) {
		t.Fatalf("Expected ErrGateFetch, got %v", err)
	}
	var fe *gate.FetchError
	if !errors.As(err, &fe) || !errors.Is(err, fetchErr) {
		t.Errorf("Expected *gate.FetchError wrapping the cause, got %v", err)
	}
	if report.Outcome != Failure || len(report.Stages) != 0 {
		t.Errorf("Expected failed report with no stages, got %s with %d stages", report.Outcome, len(report.Stages))
	}
	if h.commands.runs.Load() != 0 {
		t.Error("No stage may run after a gate fetch error")
	}
	if len(report.Warnings()) != 0 {
		t.Errorf("Gate error is not a warning: %v", report.Warnings())
	}
}

func TestRun_MatrixParseErrorIsFatal(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)

	report, err := h.pipeline.Run(context.Background(), creds("- not\n- a mapping\n"))
	if !errors.Is(err, ErrMatrixParse) {
		t.Fatalf("Expected ErrMatrixParse, got %v", err)
	}
	var pe *matrix.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("Expected *matrix.ParseError, got %T", err)
	}
	if report.Outcome != Failure || h.commands.runs.Load() != 0 {
		t.Errorf("Expected failure before any stage, outcome %s, runs %d", report.Outcome, h.commands.runs.Load())
	}
	if !strings.Contains(report.Summary(), "aborted before any stage ran") {
		t.Errorf("Summary() = %s", report.Summary())
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)
	h.pipeline.Config.ParallelDistros = nil

	if _, err := h.pipeline.Run(context.Background(), creds("repoX: {fedora: {docker: true}}")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var types []string
	for {
		select {
		case ev := <-h.events:
			if ev.EventType() != events.EventTypeRunProgress {
				types = append(types, ev.EventType())
			}
			continue
		default:
		}
		break
	}

	want := []string{
		events.EventTypeRunStarted,
		events.EventTypeGateEvaluated,
		events.EventTypeStageStarted, events.EventTypeStageCompleted, // commit-lint
		events.EventTypeStageStarted, events.EventTypeStageCompleted, // static-check
		events.EventTypeStageStarted, events.EventTypeStageOutput, events.EventTypeSubStageFinished, events.EventTypeStageCompleted,
		events.EventTypeRunFinished,
	}
	if strings.Join(types, " ") != strings.Join(want, " ") {
		t.Errorf("events:\n got %v\nwant %v", types, want)
	}
}

func TestRun_Cancelled(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)

	ctx, cancel := context.WithCancel(context.Background())
	h.pipeline.Commands = func(stage *scheduler.Stage) action.Action {
		return action.Func(func(ctx context.Context, _ action.Invocation) error {
			cancel()
			return ctx.Err()
		})
	}

	report, err := h.pipeline.Run(ctx, creds(allDistrosMatrix))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if report.Outcome != Failure {
		t.Errorf("Outcome = %s, want failure", report.Outcome)
	}
}

// fakeWorkspaces hands out "/ws/<name>" and records releases.
type fakeWorkspaces struct {
	mu       sync.Mutex
	fail     map[string]error
	released []string
}

func (f *fakeWorkspaces) Acquire(_ context.Context, name string) (string, func(), error) {
	if err := f.fail[name]; err != nil {
		return "", nil, err
	}
	return "/ws/" + name, func() {
		f.mu.Lock()
		f.released = append(f.released, name)
		f.mu.Unlock()
	}, nil
}

func TestRun_IsolatedWorkspaces(t *testing.T) {
	fetch, _ := labels()
	h := newHarness(t, fetch)
	ws := &fakeWorkspaces{fail: map[string]error{"ubuntu": errors.New("disk full")}}
	h.pipeline.Workspaces = ws

	in := creds(allDistrosMatrix)
	in.Workdir = "/src"
	report, err := h.pipeline.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := h.invoker.dirs["docker@fedora"]; got != "/ws/fedora" {
		t.Errorf("fedora workdir = %q, want /ws/fedora", got)
	}
	if got := h.invoker.dirs["docker@centos"]; got != "/ws/centos" {
		t.Errorf("centos workdir = %q, want /ws/centos", got)
	}
	if _, ran := h.invoker.dirs["docker@ubuntu"]; ran {
		t.Error("ubuntu actions ran without a workspace")
	}

	st := statuses(report)
	if st["ubuntu"] != scheduler.StatusFailed || st["centos"] != scheduler.StatusSucceeded {
		t.Errorf("statuses = %v", st)
	}
	if report.Outcome != Failure {
		t.Errorf("Outcome = %s, want failure", report.Outcome)
	}

	ws.mu.Lock()
	released := len(ws.released)
	ws.mu.Unlock()
	if released != 2 {
		t.Errorf("released %d workspaces, want 2", released)
	}
}

func TestRunTests(t *testing.T) {
	m, err := matrix.Load([]byte(`
repoX:
  fedora:
    docker: true
    rpm: "false"
    sbom: true
    unknown-thing: true
  centos: {}
`))
	if err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zapcore.WarnLevel)
	inv := newFakeInvoker("docker", "rpm", "sbom")
	tr := NewTestRunner(inv, "/work", nil, zap.New(core))

	t.Run("recognized truthy options run in order", func(t *testing.T) {
		res := tr.RunTests(context.Background(), "fedora", "repoX", m)
		if res.Status != scheduler.StatusSucceeded {
			t.Fatalf("Status = %s, err %v", res.Status, res.Err)
		}
		if got := strings.Join(inv.Calls(), ","); got != "docker@fedora,sbom@fedora" {
			t.Errorf("calls = %s", got)
		}
		if len(res.Unknown) != 1 || res.Unknown[0] != "unknown-thing" {
			t.Errorf("Unknown = %v", res.Unknown)
		}
		warned := logs.FilterMessage("unknown matrix option")
		if warned.Len() != 1 || warned.All()[0].ContextMap()["option"] != "unknown-thing" {
			t.Errorf("Expected unknown option warning, got %v", warned.All())
		}
	})

	t.Run("absent entry runs nothing", func(t *testing.T) {
		before := len(inv.Calls())
		for _, distro := range []string{"centos", "debian"} {
			res := tr.RunTests(context.Background(), distro, "repoX", m)
			if res.Status != scheduler.StatusSucceeded || len(res.SubStages) != 0 {
				t.Errorf("%s: %+v", distro, res)
			}
		}
		if len(inv.Calls()) != before {
			t.Errorf("Expected no invocations, got %v", inv.Calls()[before:])
		}
	})

	t.Run("first failure ends the stage", func(t *testing.T) {
		failing := newFakeInvoker("docker", "sbom")
		failing.fail["docker@fedora"] = fmt.Errorf("exit status 3")
		res := NewTestRunner(failing, "", nil, nil).RunTests(context.Background(), "fedora", "repoX", m)

		if res.Status != scheduler.StatusFailed || res.Err == nil {
			t.Fatalf("Expected failure, got %+v", res)
		}
		if got := strings.Join(failing.Calls(), ","); got != "docker@fedora" {
			t.Errorf("sbom must not run after docker failed, calls %s", got)
		}
	})

	t.Run("nil matrix behaves as empty", func(t *testing.T) {
		res := tr.RunTests(context.Background(), "fedora", "repoX", nil)
		if res.Status != scheduler.StatusSucceeded || len(res.SubStages) != 0 {
			t.Errorf("unexpected result %+v", res)
		}
	})
}
