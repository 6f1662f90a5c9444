package cmdsite

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"k8s.io/klog"
)

type RunCommand func(name string, args []string, stdout, stderr io.Writer, env map[string]string) error

// CommandSite is the single place ship runs external tools from, so that
// every git/toolchain/uploader invocation can be swapped for a tester in tests.
type CommandSite struct {
	RunCmd RunCommand

	Env map[string]string
}

func New() *CommandSite {
	return &CommandSite{
		RunCmd: nil,
		Env:    map[string]string{},
	}
}

func (s *CommandSite) RunCommand(cmd string, args []string, stdout, stderr io.Writer) error {
	return s.RunCmd(cmd, args, stdout, stderr, s.Env)
}

func (s *CommandSite) CaptureStrings(binary string, args []string) (string, string, error) {
	stdout, stderr, err := s.CaptureBytes(binary, args)

	var so, se string

	if stdout != nil {
		so = string(stdout)
	}

	if stderr != nil {
		se = string(stderr)
	}

	return so, se, err
}

func (s *CommandSite) CaptureBytes(binary string, args []string) ([]byte, []byte, error) {
	klog.V(1).Infof("running %s %s", binary, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	err := s.RunCommand(binary, args, &stdout, &stderr)
	if err != nil {
		klog.V(1).Info(stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func DefaultRunCommand(name string, args []string, stdout, stderr io.Writer, env map[string]string) error {
	cmd := exec.Command(name, args...)
	var e []string
	for k, v := range env {
		e = append(e, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = e
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	return cmd.Run()
}
