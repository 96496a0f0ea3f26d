// Package stdio implements the Stdio shim variant of §4.H: a subprocess
// driven over piped stdin/stdout using newline-delimited JSON frames,
// grounded on the teacher's streamjson subprocess-adapter pattern
// (agentctl/server/adapter/transport/streamjson) generalized from Claude
// Code's message protocol to Flame's three-call shim contract (§4.H.1).
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/pkg/flameapi"
)

// frame is one newline-delimited JSON message exchanged with the
// subprocess, in either direction.
type frame struct {
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Refused bool            `json:"refused,omitempty"`
}

// Shim drives a subprocess over piped stdio.
type Shim struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Scanner
}

// New launches spec.Command with spec.Arguments/Environments/
// WorkingDirectory and wires its stdin/stdout as the frame channel.
func New(ctx context.Context, executorID string, spec flameapi.ApplicationSpec) (*Shim, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Arguments...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = os.Environ()
	for k, v := range spec.Environments {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, flerr.Wrap(flerr.ShimTransport, err, "stdio: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, flerr.Wrap(flerr.ShimTransport, err, "stdio: stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, flerr.Wrap(flerr.ShimTransport, err, "stdio: start %q", spec.Command)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Shim{cmd: cmd, stdin: stdin, reader: scanner}, nil
}

func (s *Shim) call(method string, payload interface{}) (frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return frame{}, flerr.Wrap(flerr.Internal, err, "stdio: marshal request")
	}
	req := frame{Method: method, Payload: body}
	line, err := json.Marshal(req)
	if err != nil {
		return frame{}, flerr.Wrap(flerr.Internal, err, "stdio: marshal frame")
	}
	if _, err := fmt.Fprintln(s.stdin, string(line)); err != nil {
		return frame{}, flerr.Wrap(flerr.ShimTransport, err, "stdio: write frame")
	}

	if !s.reader.Scan() {
		if err := s.reader.Err(); err != nil {
			return frame{}, flerr.Wrap(flerr.ShimTransport, err, "stdio: read frame")
		}
		return frame{}, flerr.New(flerr.ShimTransport, "stdio: subprocess closed stdout")
	}
	var resp frame
	if err := json.Unmarshal(s.reader.Bytes(), &resp); err != nil {
		return frame{}, flerr.Wrap(flerr.ShimTransport, err, "stdio: decode frame")
	}
	return resp, nil
}

func (s *Shim) OnSessionEnter(_ context.Context, sessionCtx flameapi.SessionContext) error {
	resp, err := s.call("on_session_enter", sessionCtx)
	if err != nil {
		return err
	}
	return asError(resp)
}

func (s *Shim) OnTaskInvoke(_ context.Context, taskCtx flameapi.TaskContext) (flameapi.TaskOutput, error) {
	resp, err := s.call("on_task_invoke", taskCtx)
	if err != nil {
		return flameapi.TaskOutput{}, err
	}
	if err := asError(resp); err != nil {
		return flameapi.TaskOutput{}, err
	}
	var out flameapi.TaskOutput
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return flameapi.TaskOutput{}, flerr.Wrap(flerr.ShimTransport, err, "stdio: decode result")
		}
		out.OutputSet = true
	}
	return out, nil
}

func (s *Shim) OnSessionLeave(_ context.Context) error {
	resp, err := s.call("on_session_leave", struct{}{})
	if err != nil {
		return err
	}
	return asError(resp)
}

func asError(resp frame) error {
	if resp.OK {
		return nil
	}
	if resp.Refused {
		return flerr.New(flerr.ShimRefused, "stdio: %s", resp.Error)
	}
	return flerr.WithPayload(resp.Result, "stdio: %s", resp.Error)
}

func (s *Shim) Close() error {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
