package sftp

import (
	"bytes"
	"os/exec"
	"os/user"
	"strings"

	vfs "github.com/govfsd/vfsd/fs"
)

// sshVendor identifies the local ssh client's flavor, which selects
// both its argv template and which fd carries login prompts.
type sshVendor int

// Recognised vendors.
const (
	vendorUnknown sshVendor = iota
	vendorOpenSSH
	vendorLegacy // "SSH Secure Shell" (ssh.com) client
)

// probeVendor runs `ssh -V`, captures its stderr banner, and
// classifies the local client.
// Neither OpenSSH nor the legacy client exit zero for -V, so the
// banner is read regardless of the run's own error.
func probeVendor(runner func(name string, args ...string) ([]byte, []byte, error)) (sshVendor, error) {
	_, stderr, _ := runner("ssh", "-V")
	banner := string(stderr)
	switch {
	case strings.Contains(banner, "OpenSSH") || strings.Contains(banner, "Sun_SSH"):
		return vendorOpenSSH, nil
	case strings.Contains(banner, "SSH Secure Shell"):
		return vendorLegacy, nil
	default:
		return vendorUnknown, vfs.Errorf(vfs.KindNotSupported, "sftp: unable to find supported ssh command")
	}
}

// runSSHVersion invokes the real `ssh -V` for probeVendor's default
// runner; tests substitute a fake runner instead of spawning a real
// binary.
func runSSHVersion(name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := exec.Command(name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// buildArgv constructs the ssh argv for vendor. hasPTY controls
// whether BatchMode is added for the openssh flavor (only relevant
// when no PTY is available to carry an interactive prompt).
func buildArgv(v sshVendor, user, host string, hasPTY bool) []string {
	switch v {
	case vendorLegacy:
		return []string{"-x", "-l", user, "-s", "sftp", host}
	default: // vendorOpenSSH
		args := []string{
			"-oForwardX11=no",
			"-oForwardAgent=no",
			"-oClearAllForwardings=yes",
			"-oProtocol=2",
			"-oNoHostAuthenticationForLocalhost=yes",
		}
		if !hasPTY {
			args = append(args, "-oBatchMode=yes")
		}
		args = append(args, "-l", user, "-s", host, "sftp")
		return args
	}
}

// osCurrentUsername resolves the current OS user for a mount spec
// that omits "user".
func osCurrentUsername() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
