package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cbright/taskhive/pkg/models"
)

// fakeRunner records the command it was asked to run and replays a canned
// outcome.
type fakeRunner struct {
	lastWorkDir string
	lastCommand string
	output      []byte
	err         error
}

func (r *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	r.lastWorkDir = workDir
	r.lastCommand = name + " " + strings.Join(args, " ")
	return r.output, r.err
}

func (r *fakeRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	r.lastWorkDir = workDir
	r.lastCommand = command
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return r.output, r.err
}

func TestShellAgent_RunSubstitutesPlaceholders(t *testing.T) {
	runner := &fakeRunner{output: []byte("done\n")}
	a := NewShell("builder", "runs make", "make build PROMPT={prompt} TASK={id}", "/src", runner)

	task := models.NewTask("t1", models.AgentTypeBuild, "release binary")
	res, err := a.Run(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Output != "done" {
		t.Errorf("result = %+v, want trimmed success output", res)
	}
	if want := "make build PROMPT='release binary' TASK='t1'"; runner.lastCommand != want {
		t.Errorf("command = %q, want %q", runner.lastCommand, want)
	}
	if runner.lastWorkDir != "/src" {
		t.Errorf("workDir = %q, want /src", runner.lastWorkDir)
	}
}

func TestShellAgent_RunQuotesEmbeddedQuotes(t *testing.T) {
	runner := &fakeRunner{}
	a := NewShell("builder", "", "echo {prompt}", "", runner)

	task := models.NewTask("t1", models.AgentTypeBuild, "it's fine")
	if _, err := a.Run(context.Background(), task, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := `echo 'it'\''s fine'`; runner.lastCommand != want {
		t.Errorf("command = %q, want %q", runner.lastCommand, want)
	}
}

func TestShellAgent_CommandFailureIsUnsuccessfulResult(t *testing.T) {
	runner := &fakeRunner{output: []byte("boom"), err: errors.New("exit status 2")}
	a := NewShell("builder", "", "false", "", runner)

	res, err := a.Run(context.Background(), models.NewTask("t1", models.AgentTypeBuild, "x"), nil)
	if err != nil {
		t.Fatalf("Run should not hard-fail on exit status: %v", err)
	}
	if res.Success {
		t.Fatal("non-zero exit must produce an unsuccessful result")
	}
	e := res.FirstError()
	if e == nil || e.Code != "COMMAND_FAILED" || !strings.Contains(e.Message, "boom") {
		t.Errorf("error = %+v, want COMMAND_FAILED carrying output", e)
	}
}

func TestShellAgent_ContextCancellationIsHardError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("signal: killed")}
	a := NewShell("builder", "", "sleep 60", "", runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Run(ctx, models.NewTask("t1", models.AgentTypeBuild, "x"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestShellAgent_AvailabilityAndAbort(t *testing.T) {
	a := NewShell("builder", "", "true", "", &fakeRunner{})
	if !a.IsAvailable() {
		t.Error("new agent should be available")
	}
	// Abort with nothing running is a no-op.
	a.Abort()
	if a.Status() != StatusIdle {
		t.Errorf("status = %s, want idle", a.Status())
	}
}
