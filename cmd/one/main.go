// Command one is the instance CLI: init, login, logout, post, one Cobra
// command per subcommand, wired onto a single root command.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/refinio/one-core/errutil"
)

func main() {
	root := &cobra.Command{Use: "one", Short: "one-core instance CLI"}
	root.AddCommand(initCmd(), loginCmd(), logoutCmd(), postCmd())
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an errutil.Error's Code onto a process exit code: 0
// success; 2 invalid arguments; 3 authentication failure; 4 not found; 5
// transport failure. An error that isn't an *errutil.Error (e.g. a Cobra
// argument-parsing error) is treated as an invalid-arguments failure.
func exitCodeFor(err error) int {
	code, ok := errutil.CodeOf(err)
	if !ok {
		return 2
	}
	switch code {
	case errutil.CodeAuthFailed:
		return 3
	case errutil.CodeInstanceNotFound, errutil.CodeFileNotFound, errutil.CodeRuleNotFound:
		return 4
	case errutil.CodeTimeout, errutil.CodeTransportClosed, errutil.CodeProtocolMismatch:
		return 5
	default:
		return 2
	}
}
