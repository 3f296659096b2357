package sysdns

import (
	"bytes"
	"context"
	"fmt"

	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/osutil/executil"
)

// maxCmdOutputSize bounds how much of a subprocess's stdout this package
// retains, to protect against a runaway or malicious command.
const maxCmdOutputSize = 64 * 1024

// runCommand runs command with arguments using cmdCons, bounded by
// subprocessTimeout, and returns its exit code and stdout.  A non-zero exit
// code is reported through code with a nil err, matching the platform
// backends' expectations: most of them treat "ran, but failed" and "could
// not run at all" differently.
func runCommand(
	ctx context.Context,
	cmdCons executil.CommandConstructor,
	command string,
	arguments ...string,
) (code int, output []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}

	err = executil.Run(ctx, cmdCons, &executil.CommandConfig{
		Path:   command,
		Args:   arguments,
		Stdout: ioutil.NewTruncatedWriter(stdoutBuf, maxCmdOutputSize),
		Stderr: stderrBuf,
	})
	if err == nil {
		return osutil.ExitCodeSuccess, stdoutBuf.Bytes(), nil
	}

	code, ok := executil.ExitCodeFromError(err)
	if ok {
		return code, stdoutBuf.Bytes(), nil
	}

	return osutil.ExitCodeFailure, nil, fmt.Errorf("running %q: %w: %s", command, err, stderrBuf)
}
