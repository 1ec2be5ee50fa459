package main

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grcorsair/corsair/pkg/attestation"
	"github.com/grcorsair/corsair/pkg/config"
	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/keys"
)

func newAttestCmd() *cobra.Command {
	cfg := config.Load()
	var keysDir string

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Manage the key attestation chain",
	}
	cmd.PersistentFlags().StringVar(&keysDir, "keys", cfg.KeysDir, "root key directory")

	var (
		orgDID       string
		orgJWKPath   string
		rootDID      string
		scopePath    string
		validityDays int
	)
	org := &cobra.Command{
		Use:   "org",
		Short: "Attest an organisation key under the root key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if orgDID == "" || orgJWKPath == "" || rootDID == "" {
				return badArgs("--org-did, --org-jwk, and --root-did are required")
			}
			raw, err := readFileArg(orgJWKPath)
			if err != nil {
				return err
			}
			var jwk did.JWK
			if err := json.Unmarshal(raw, &jwk); err != nil {
				return badArgs("org JWK is not valid JSON: %v", err)
			}

			var scope *did.KeyScope
			if scopePath != "" {
				scopeRaw, err := readFileArg(scopePath)
				if err != nil {
					return err
				}
				scope = &did.KeyScope{}
				if err := json.Unmarshal(scopeRaw, scope); err != nil {
					return badArgs("scope is not valid JSON: %v", err)
				}
			}

			rootMgr, err := openKeys(keysDir, true)
			if err != nil {
				return err
			}
			token, err := attestation.AttestOrgKey(cmd.Context(), orgDID, jwk, scope, rootMgr, rootDID, validityDays)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	org.Flags().StringVar(&orgDID, "org-did", "", "organisation DID")
	org.Flags().StringVar(&orgJWKPath, "org-jwk", "", "organisation public key JWK file")
	org.Flags().StringVar(&rootDID, "root-did", "", "root authority DID")
	org.Flags().StringVar(&scopePath, "scope", "", "key scope JSON file")
	org.Flags().IntVar(&validityDays, "validity-days", 365, "attestation validity window")

	var (
		rootKeyPEM string
		orgKeyPEM  string
	)
	verifyChain := &cobra.Command{
		Use:   "verify-chain <credential.jwt> <attestation.jwt>",
		Short: "Verify root key -> attestation -> org key -> credential",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return badArgs("credential and attestation files required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootKeyPEM == "" || orgKeyPEM == "" {
				return badArgs("--root-key and --org-key are required")
			}
			credRaw, err := readFileArg(args[0])
			if err != nil {
				return err
			}
			attRaw, err := readFileArg(args[1])
			if err != nil {
				return err
			}
			rootPub, err := loadPEMKey(rootKeyPEM)
			if err != nil {
				return err
			}
			orgPub, err := loadPEMKey(orgKeyPEM)
			if err != nil {
				return err
			}

			result := attestation.VerifyChain(
				strings.TrimSpace(string(credRaw)),
				strings.TrimSpace(string(attRaw)),
				rootPub, orgPub)
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if result.TrustLevel != attestation.TrustChainVerified {
				return fmt.Errorf("chain invalid: %s", result.Reason)
			}
			return nil
		},
	}
	verifyChain.Flags().StringVar(&rootKeyPEM, "root-key", "", "root public key PEM")
	verifyChain.Flags().StringVar(&orgKeyPEM, "org-key", "", "org public key PEM")

	cmd.AddCommand(org, verifyChain)
	return cmd
}

func loadPEMKey(path string) (ed25519.PublicKey, error) {
	raw, err := readFileArg(path)
	if err != nil {
		return nil, err
	}
	return keys.ParsePublicKeyPEM(raw)
}
