package main

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/policy"
	"github.com/grcorsair/corsair/pkg/verify"
)

func newVerifyCmd() *cobra.Command {
	var (
		keyPEMs    []string
		viaDID     bool
		policyPath string
	)

	cmd := &cobra.Command{
		Use:   "verify <credential.jwt>",
		Short: "Verify a credential offline or via DID resolution",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return badArgs("exactly one credential file required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readFileArg(args[0])
			if err != nil {
				return err
			}
			token := strings.TrimSpace(string(raw))

			var result *verify.Result
			if viaDID {
				result, err = verify.VerifyViaDID(cmd.Context(), token, did.NewResolver())
				if err != nil {
					return err
				}
			} else {
				if len(keyPEMs) == 0 {
					return badArgs("provide --key PEM file(s) or use --via-did")
				}
				var trusted []ed25519.PublicKey
				for _, path := range keyPEMs {
					pemBytes, err := readFileArg(path)
					if err != nil {
						return err
					}
					pub, err := keys.ParsePublicKeyPEM(pemBytes)
					if err != nil {
						return err
					}
					trusted = append(trusted, pub)
				}
				result = verify.Verify(token, trusted)
			}

			output := map[string]any{"verification": result}
			if policyPath != "" && result.Valid {
				pol, err := policy.Load(policyPath)
				if err != nil {
					return err
				}
				output["policy"] = policy.Evaluate(result.Payload, pol, &policy.Context{
					// Offline verification has no out-of-band chain checks;
					// the credential's own claims drive the policy.
					EvidenceChainValid:    true,
					ReceiptChainValid:     true,
					BindingValid:          true,
					AllReceiptsRegistered: true,
				})
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(output); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("credential invalid: %s", result.Reason)
			}
			if pr, ok := output["policy"].(*policy.Result); ok && !pr.OK {
				return fmt.Errorf("policy violated: %s", strings.Join(pr.Errors, "; "))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&keyPEMs, "key", nil, "trusted public key PEM (repeatable)")
	cmd.Flags().BoolVar(&viaDID, "via-did", false, "resolve the issuer DID for the key")
	cmd.Flags().StringVar(&policyPath, "policy", "", "YAML verification policy to apply")
	return cmd
}
