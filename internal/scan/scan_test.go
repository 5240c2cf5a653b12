package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockwhz/scan-triage-service/internal/auth"
	"github.com/lockwhz/scan-triage-service/internal/command"
	"github.com/lockwhz/scan-triage-service/internal/git"
)

/* ============================== Fakes ============================== */

type fakeCloner struct {
	err error
}

func (c *fakeCloner) Clone(_ context.Context, _ git.Target, _ *auth.Credential, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "app.py"), []byte("print('hi')\n"), 0o644); err != nil {
		return err
	}
	return c.err
}

type fakeScanner struct {
	name string
	out  []byte
	err  error
}

func (s *fakeScanner) Name() string { return s.name }

func (s *fakeScanner) Scan(_ context.Context, dir string) (RawOutput, error) {
	if _, err := os.Stat(dir); err != nil {
		return RawOutput{}, err
	}
	return RawOutput{Tool: s.name, Output: s.out}, s.err
}

type funcRunner func(spec command.Spec) (command.Result, error)

func (f funcRunner) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	return f(spec)
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace deveria ter sido removido")
}

func request() Request {
	return Request{JobID: "job-1", Target: git.Target{RepoURL: "https://github.com/acme/app.git", Branch: "main"}}
}

/* ============================= Executor ============================ */

func TestExecutor_Success(t *testing.T) {
	base := t.TempDir()
	e := &Executor{
		Cloner: &fakeCloner{},
		Scanners: []Scanner{
			&fakeScanner{name: "gitleaks", out: []byte("[]")},
			&fakeScanner{name: "trivy", out: []byte(`{"Results":[]}`)},
		},
		CloneSem: make(chan struct{}, 1),
		BaseDir:  base,
	}

	var seenDir string
	var seen []RawOutput
	err := e.Run(context.Background(), request(), func(repoDir string, outputs []RawOutput) error {
		seenDir = repoDir
		seen = outputs
		_, statErr := os.Stat(filepath.Join(repoDir, "app.py"))
		assert.NoError(t, statErr, "checkout deve existir durante o handle")
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, "gitleaks", seen[0].Tool)
	assert.Equal(t, "trivy", seen[1].Tool)

	_, statErr := os.Stat(seenDir)
	assert.True(t, os.IsNotExist(statErr))
	assertEmptyDir(t, base)
	assert.Len(t, e.CloneSem, 0, "semáforo liberado")
}

func TestExecutor_CloneFailureRemovesWorkspace(t *testing.T) {
	base := t.TempDir()
	cloneErr := &git.CloneError{Step: "clone", ExitCode: 128, Stderr: "fatal: Remote branch nope not found"}
	e := &Executor{Cloner: &fakeCloner{err: cloneErr}, BaseDir: base}

	called := false
	err := e.Run(context.Background(), request(), func(string, []RawOutput) error {
		called = true
		return nil
	})
	var ce *git.CloneError
	require.ErrorAs(t, err, &ce)
	assert.False(t, called)
	assertEmptyDir(t, base)
}

func TestExecutor_ToolErrorsAggregated(t *testing.T) {
	base := t.TempDir()
	e := &Executor{
		Cloner: &fakeCloner{},
		Scanners: []Scanner{
			&fakeScanner{name: "gitleaks", err: &ToolLaunchError{Tool: "gitleaks", Err: errors.New("not found")}},
			&fakeScanner{name: "trivy", err: &command.TimeoutError{Name: "trivy", Timeout: time.Second}},
		},
		BaseDir: base,
	}

	err := e.Run(context.Background(), request(), func(string, []RawOutput) error {
		t.Fatal("handle não deve ser chamado quando uma ferramenta falha")
		return nil
	})
	require.Error(t, err)

	var launch *ToolLaunchError
	assert.ErrorAs(t, err, &launch)
	var timeout *command.TimeoutError
	assert.ErrorAs(t, err, &timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assertEmptyDir(t, base)
}

func TestExecutor_SingleToolErrorNotWrapped(t *testing.T) {
	launch := &ToolLaunchError{Tool: "trivy", Err: errors.New("not found")}
	e := &Executor{
		Cloner:   &fakeCloner{},
		Scanners: []Scanner{&fakeScanner{name: "trivy", err: launch}},
		BaseDir:  t.TempDir(),
	}
	err := e.Run(context.Background(), request(), func(string, []RawOutput) error { return nil })
	assert.Same(t, launch, err)
}

func TestExecutor_PanicInHandleStillRemovesWorkspace(t *testing.T) {
	base := t.TempDir()
	e := &Executor{Cloner: &fakeCloner{}, BaseDir: base}

	assert.Panics(t, func() {
		_ = e.Run(context.Background(), request(), func(string, []RawOutput) error {
			panic("boom")
		})
	})
	assertEmptyDir(t, base)
}

func TestExecutor_CloneSemRespectsContext(t *testing.T) {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	e := &Executor{Cloner: &fakeCloner{}, CloneSem: sem, BaseDir: t.TempDir()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Run(ctx, request(), func(string, []RawOutput) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

/* ============================= Scanners ============================ */

func TestGitleaksScanner_ReadsReportAndKeepsExitCode(t *testing.T) {
	report := `[{"RuleID":"aws-access-key","File":"a.py","StartLine":1,"Secret":"AKIAEXAMPLE"}]`
	var gotArgs []string
	runner := funcRunner(func(spec command.Spec) (command.Result, error) {
		gotArgs = spec.Args
		require.NoError(t, os.WriteFile(argAfter(spec.Args, "--report-path"), []byte(report), 0o600))
		return command.Result{ExitCode: 1, Stderr: "leaks found: 1"}, nil
	})
	s := &GitleaksScanner{Runner: runner}

	out, err := s.Scan(context.Background(), "/ws/repo")
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.JSONEq(t, report, string(out.Output))
	assert.Equal(t, "/ws/repo", argAfter(gotArgs, "--source"))
	assert.Equal(t, "json", argAfter(gotArgs, "--report-format"))

	_, statErr := os.Stat(argAfter(gotArgs, "--report-path"))
	assert.True(t, os.IsNotExist(statErr), "relatório temporário removido")
}

func TestGitleaksScanner_MissingReportIsEmpty(t *testing.T) {
	runner := funcRunner(func(spec command.Spec) (command.Result, error) {
		_ = os.Remove(argAfter(spec.Args, "--report-path"))
		return command.Result{}, nil
	})
	out, err := (&GitleaksScanner{Runner: runner}).Scan(context.Background(), "/ws/repo")
	require.NoError(t, err)
	assert.Empty(t, out.Output)
}

func TestGitleaksScanner_LaunchError(t *testing.T) {
	runner := funcRunner(func(command.Spec) (command.Result, error) {
		return command.Result{ExitCode: -1}, &command.LaunchError{Name: "gitleaks", Err: errors.New("executable file not found")}
	})
	_, err := (&GitleaksScanner{Runner: runner}).Scan(context.Background(), "/ws/repo")

	var launch *ToolLaunchError
	require.ErrorAs(t, err, &launch)
	assert.Equal(t, "gitleaks", launch.Tool)
}

func TestTrivyScanner_StdoutAndTimeout(t *testing.T) {
	runner := funcRunner(func(spec command.Spec) (command.Result, error) {
		assert.Equal(t, "/opt/trivy", spec.Name)
		assert.Equal(t, "vuln,secret,misconfig", argAfter(spec.Args, "--scanners"))
		assert.Equal(t, "/ws/repo", spec.Args[len(spec.Args)-1])
		assert.Equal(t, 2*time.Minute, spec.Timeout)
		return command.Result{Stdout: []byte(`{"Results":[]}`)}, nil
	})
	out, err := (&TrivyScanner{Path: "/opt/trivy", Runner: runner, Timeout: 2 * time.Minute}).Scan(context.Background(), "/ws/repo")
	require.NoError(t, err)
	assert.Equal(t, `{"Results":[]}`, string(out.Output))

	timeoutRunner := funcRunner(func(command.Spec) (command.Result, error) {
		return command.Result{ExitCode: -1}, &command.TimeoutError{Name: "trivy", Timeout: time.Second}
	})
	_, err = (&TrivyScanner{Runner: timeoutRunner}).Scan(context.Background(), "/ws/repo")
	var timeout *command.TimeoutError
	assert.ErrorAs(t, err, &timeout)
}
