// Command corsair is the compliance-proof pipeline CLI: key management,
// credential issuance and verification, transparency-log operations,
// discovery artefact minting, and the HTTP server.
//
// Exit codes: 0 success, 1 failure, 2 bad arguments.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// usageError marks argument problems so main exits 2 instead of 1.
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func badArgs(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "corsair",
		Short:         "Compliance-proof issuance and verification pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(
		newKeysCmd(),
		newIssueCmd(),
		newVerifyCmd(),
		newAttestCmd(),
		newOnboardCmd(),
		newSCITTCmd(),
		newServeCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var usage *usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
