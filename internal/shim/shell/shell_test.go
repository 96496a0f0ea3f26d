package shell

import (
	"bytes"
	"context"
	"testing"

	"github.com/flamerun/flame/pkg/flameapi"
)

func TestShellEchoesStdin(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "e1", flameapi.ApplicationSpec{Command: "cat"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	if err := s.OnSessionEnter(ctx, flameapi.SessionContext{}); err != nil {
		t.Fatalf("on_session_enter: %v", err)
	}

	out, err := s.OnTaskInvoke(ctx, flameapi.TaskContext{Input: []byte("hello"), InputSet: true})
	if err != nil {
		t.Fatalf("on_task_invoke: %v", err)
	}
	if !out.OutputSet || !bytes.Equal(out.Output, []byte("hello")) {
		t.Fatalf("expected echoed output, got %+v", out)
	}

	if err := s.OnSessionLeave(ctx); err != nil {
		t.Fatalf("on_session_leave: %v", err)
	}
}

func TestShellCommandFailureCarriesStderr(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "e1", flameapi.ApplicationSpec{Command: "sh", Arguments: []string{"-c", "echo boom >&2; exit 1"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	_, err = s.OnTaskInvoke(ctx, flameapi.TaskContext{})
	if err == nil {
		t.Fatal("expected an error from a non-zero exit")
	}
}

func TestShellEachTaskIsAFreshProcess(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "e1", flameapi.ApplicationSpec{Command: "cat"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	first, err := s.OnTaskInvoke(ctx, flameapi.TaskContext{Input: []byte("one"), InputSet: true})
	if err != nil {
		t.Fatalf("first invoke: %v", err)
	}
	second, err := s.OnTaskInvoke(ctx, flameapi.TaskContext{Input: []byte("two"), InputSet: true})
	if err != nil {
		t.Fatalf("second invoke: %v", err)
	}
	if bytes.Equal(first.Output, second.Output) {
		t.Fatalf("expected distinct outputs per task, got %q twice", first.Output)
	}
}
