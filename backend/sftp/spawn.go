package sftp

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"

	vfs "github.com/govfsd/vfsd/fs"
)

// spawnedProcess is the running `ssh` child plus whichever fd carries
// its login prompts: a PTY master for the openssh vendor
// (ssh only prints prompts to the controlling terminal, not stdout),
// the stderr pipe for the legacy vendor, or neither in BatchMode when
// no PTY could be allocated.
type spawnedProcess struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	ptm *os.File

	promptReader *os.File
	promptWriter *os.File
}

// spawnProcess starts the local ssh client for vendor. The binary SFTP protocol always rides
// stdin/stdout, regardless of vendor or PTY availability.
func spawnProcess(vendor sshVendor, user, host string) (*spawnedProcess, error) {
	usePTY := vendor == vendorOpenSSH
	var ptm, pts *os.File
	closeFiles := func(files ...*os.File) {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}
	if usePTY {
		var err error
		ptm, pts, err = pty.Open()
		if err != nil {
			usePTY = false
		}
	}

	argv := buildArgv(vendor, user, host, usePTY)
	cmd := exec.Command("ssh", argv...)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		closeFiles(ptm, pts)
		return nil, vfs.New(vfs.KindIO, "sftp: failed to create stdin pipe", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeFiles(ptm, pts, stdinR, stdinW)
		return nil, vfs.New(vfs.KindIO, "sftp: failed to create stdout pipe", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	sp := &spawnedProcess{cmd: cmd, stdin: stdinW, stdout: stdoutR}

	switch {
	case usePTY:
		cmd.ExtraFiles = []*os.File{pts}
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 3}
		cmd.Stderr = nil
		sp.ptm = ptm
		sp.promptReader = ptm
		sp.promptWriter = ptm
	case vendor == vendorLegacy:
		stderrR, stderrW, perr := os.Pipe()
		if perr != nil {
			closeFiles(stdinR, stdinW, stdoutR, stdoutW)
			return nil, vfs.New(vfs.KindIO, "sftp: failed to create stderr pipe", perr)
		}
		cmd.Stderr = stderrW
		sp.stderr = stderrR
		sp.promptReader = stderrR
		sp.promptWriter = stdinW
		defer stderrW.Close()
	default:
		// BatchMode: no prompts are expected, so nothing reads or
		// writes a separate prompt channel.
	}

	if err := cmd.Start(); err != nil {
		if pts != nil {
			pts.Close()
		}
		if ptm != nil {
			ptm.Close()
		}
		closeFiles(stdinR, stdinW, stdoutR, stdoutW, sp.stderr)
		return nil, vfs.New(vfs.KindIO, "sftp: failed to start ssh", err)
	}

	// The child now holds its own copies of the pipe/PTY ends.
	stdinR.Close()
	stdoutW.Close()
	if pts != nil {
		pts.Close()
	}

	return sp, nil
}

// kill terminates the child and releases its fds; used when spawn,
// login or handshake fails partway through.
func (sp *spawnedProcess) kill() {
	if sp.cmd.Process != nil {
		_ = sp.cmd.Process.Kill()
	}
	_ = sp.cmd.Wait()
	sp.stdin.Close()
	sp.stdout.Close()
	if sp.stderr != nil {
		sp.stderr.Close()
	}
	if sp.ptm != nil {
		sp.ptm.Close()
	}
}

// loginIO exposes the spawned process's prompt fds as the interfaces
// runLogin wants, or nil when BatchMode left nothing to negotiate.
func (sp *spawnedProcess) loginIO() (promptReader *os.File, promptWriter *os.File) {
	return sp.promptReader, sp.promptWriter
}
