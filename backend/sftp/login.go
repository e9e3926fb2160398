package sftp

import (
	"bufio"
	"io"
	"strings"
	"time"

	vfs "github.com/govfsd/vfsd/fs"
)

// Flag bits passed to CredentialSource.AskPassword.
const (
	NeedPassword = 1 << iota
)

// CredentialSource is the external collaborator that supplies
// interactive credentials: ask_password(prompt, default_user,
// flags) → (cancelled, password, username, save_flags).
type CredentialSource interface {
	AskPassword(prompt, defaultUser string, flags int) (cancelled bool, password, username string, saveFlags int)
}

// HostKeyConfirmer is implemented by a CredentialSource that can
// surface a host-key trust decision.
// A CredentialSource that doesn't implement it gets an always-trust
// default.
type HostKeyConfirmer interface {
	ConfirmHostKey(prompt string) (trusted bool)
}

// defaultCredentialSource is wired when a backend isn't given one
// explicitly; it always aborts, so a daemon that forgets to attach a
// real prompter fails closed rather than hanging or auto-accepting.
type defaultCredentialSource struct{}

func (defaultCredentialSource) AskPassword(prompt, defaultUser string, flags int) (bool, string, string, int) {
	return true, "", "", 0
}

func (defaultCredentialSource) ConfirmHostKey(prompt string) bool {
	return false
}

// loginTimeout bounds each wait for prompt or handshake traffic; a
// variable so tests can shrink it.
var loginTimeout = 20 * time.Second

// promptEvent carries one read from either the prompt fd or a
// readiness probe on the reply stream.
type promptEvent struct {
	fromPrompt bool
	chunk      []byte
	err        error
}

// runLogin drives the authentication phase: it watches promptReader
// for the classes of prompt text the detected ssh vendor emits,
// answering each via cred, until either stdout becomes readable
// (login done, VERSION reply pending) or the login timeout expires. A
// nil promptReader means BatchMode was used (no PTY available) —
// there's nothing to negotiate, so login is skipped entirely.
func runLogin(stdout *bufio.Reader, promptReader io.Reader, promptWriter io.Writer, cred CredentialSource, cancelled func() bool) error {
	if promptReader == nil {
		return nil
	}

	events := make(chan promptEvent, 1)
	stop := make(chan struct{})
	defer close(stop)

	go pumpPrompt(promptReader, events, stop)
	go pumpReadiness(stdout, events, stop)

	var acc []byte
	for {
		if cancelled != nil && cancelled() {
			return vfs.Cancelled
		}
		select {
		case e := <-events:
			if !e.fromPrompt {
				if e.err != nil {
					return vfs.New(vfs.KindIO, "sftp: unexpected EOF before VERSION reply", e.err)
				}
				return nil
			}
			if e.err != nil && e.err != io.EOF {
				return vfs.New(vfs.KindIO, "sftp: login stream error", e.err)
			}
			acc = append(acc, e.chunk...)
			done, loopErr := handlePromptBuffer(&acc, promptWriter, cred)
			if loopErr != nil {
				return loopErr
			}
			if !done && e.err == io.EOF {
				return vfs.New(vfs.KindIO, "sftp: unexpected EOF during login", nil)
			}
		case <-time.After(loginTimeout):
			return vfs.New(vfs.KindTimedOut, "Timed out when logging in", nil)
		}
	}
}

func pumpPrompt(r io.Reader, events chan<- promptEvent, stop <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		chunk := append([]byte(nil), buf[:n]...)
		select {
		case events <- promptEvent{fromPrompt: true, chunk: chunk, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func pumpReadiness(br *bufio.Reader, events chan<- promptEvent, stop <-chan struct{}) {
	_, err := br.Peek(1)
	select {
	case events <- promptEvent{fromPrompt: false, err: err}:
	case <-stop:
	}
}

// handlePromptBuffer classifies acc against the known prompt
// substrings, answers recognised prompts via cred, and resets acc after
// each. Returns done=true once a password or host-key prompt has been answered (a
// heuristic signal that login is progressing, not a protocol fact);
// the caller keeps looping regardless until stdout becomes readable.
func handlePromptBuffer(acc *[]byte, writer io.Writer, cred CredentialSource) (done bool, err error) {
	text := string(*acc)
	switch {
	case isPasswordPrompt(text):
		cancelled, password, _, _ := cred.AskPassword(text, "", NeedPassword)
		if cancelled {
			return false, vfs.New(vfs.KindPermissionDenied, "Password dialog cancelled", nil)
		}
		if _, werr := writer.Write([]byte(password + "\n")); werr != nil {
			return false, vfs.New(vfs.KindIO, "sftp: failed writing password response", werr)
		}
		*acc = (*acc)[:0]
		return true, nil
	case isHostKeyPrompt(text):
		trusted := true
		if hk, ok := cred.(HostKeyConfirmer); ok {
			trusted = hk.ConfirmHostKey(text)
		}
		if !trusted {
			return false, vfs.New(vfs.KindPermissionDenied, "host key not trusted", nil)
		}
		if _, werr := writer.Write([]byte("yes\n")); werr != nil {
			return false, vfs.New(vfs.KindIO, "sftp: failed writing host key response", werr)
		}
		*acc = (*acc)[:0]
		return true, nil
	default:
		return false, nil
	}
}

func isPasswordPrompt(text string) bool {
	return strings.HasSuffix(text, "password:") ||
		strings.HasSuffix(text, "Password:") ||
		strings.HasSuffix(text, "Password: ") ||
		strings.HasPrefix(text, "Enter passphrase for key")
}

func isHostKeyPrompt(text string) bool {
	return strings.Contains(text, "The authenticity of host '") ||
		strings.Contains(text, "Key fingerprint:")
}
