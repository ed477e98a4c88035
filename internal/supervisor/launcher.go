package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ExecLauncher spawns recorders from an argv template. Template elements
// may contain {display} and {output}, replaced per target.
type ExecLauncher struct {
	argv []string
}

// NewExecLauncher builds a launcher from the recorder command template.
func NewExecLauncher(argv []string) *ExecLauncher {
	return &ExecLauncher{argv: argv}
}

// Launch starts the recorder process. The context is not wired into the
// process's lifetime: recorders outlive the start call and are shut down
// through the supervisor's escalation chain.
func (l *ExecLauncher) Launch(ctx context.Context, target Target) (Process, error) {
	if len(l.argv) == 0 {
		return nil, errors.New("recorder command not configured")
	}
	if err := os.MkdirAll(filepath.Dir(target.OutputPath), 0o755); err != nil {
		return nil, err
	}

	argv := make([]string, len(l.argv))
	for i, arg := range l.argv {
		arg = strings.ReplaceAll(arg, "{display}", strconv.Itoa(target.DisplayID))
		arg = strings.ReplaceAll(arg, "{output}", target.OutputPath)
		argv[i] = arg
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdin: stdin}, nil
}

// execProcess adapts os/exec to the Process interface.
type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) WriteStdin(s string) error {
	_, err := io.WriteString(p.stdin, s)
	return err
}

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	p.stdin.Close()
	return err
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}
