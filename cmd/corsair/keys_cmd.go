package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grcorsair/corsair/pkg/config"
	"github.com/grcorsair/corsair/pkg/keys"
)

func openKeys(dir string, mustExist bool) (*keys.FileManager, error) {
	mgr, err := keys.NewFileManager(dir)
	if err != nil {
		return nil, err
	}
	if mustExist && !mgr.Loaded() {
		return nil, fmt.Errorf("no keypair in %s; run `corsair keys generate` first", dir)
	}
	return mgr, nil
}

func newKeysCmd() *cobra.Command {
	cfg := config.Load()
	var dir string

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the issuer signing keypair",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", cfg.KeysDir, "key directory")

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a fresh Ed25519 keypair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := openKeys(dir, false)
			if err != nil {
				return err
			}
			if err := mgr.Generate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %s in %s\n", mgr.KeyRef(), dir)
			return nil
		},
	}

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the signing key; the old key becomes verify-only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := openKeys(dir, true)
			if err != nil {
				return err
			}
			_, _, err = mgr.Rotate()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rotated to %s; %d retired key(s) kept for verification\n",
				mgr.KeyRef(), len(mgr.Retired()))
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Export the current public key as a JWK",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := openKeys(dir, true)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(keys.ExportJWK(mgr))
		},
	}

	exportPEM := &cobra.Command{
		Use:   "export-pem",
		Short: "Export the current public key as SPKI PEM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := openKeys(dir, true)
			if err != nil {
				return err
			}
			pemBytes, err := mgr.PublicKeyPEM()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(pemBytes)
			return err
		},
	}

	cmd.AddCommand(generate, rotate, export, exportPEM)
	return cmd
}

func readFileArg(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, badArgs("cannot read %s: %v", path, err)
	}
	return raw, nil
}
