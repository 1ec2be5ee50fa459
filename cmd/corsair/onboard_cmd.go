package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/grcorsair/corsair/pkg/config"
	"github.com/grcorsair/corsair/pkg/discovery"
)

func newOnboardCmd() *cobra.Command {
	cfg := config.Load()
	var (
		keysDir    string
		domain     string
		frameworks []string
		outDir     string
	)

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Mint the DID document, JWKS, and trust.txt for a domain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := openKeys(keysDir, true)
			if err != nil {
				return err
			}

			result := discovery.Onboard(mgr, domain, nil, frameworks)
			if outDir == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			wellKnown := filepath.Join(outDir, ".well-known")
			if err := mkdirAll(wellKnown); err != nil {
				return err
			}
			if err := writeJSONFile(filepath.Join(wellKnown, "did.json"), result.DIDDocument); err != nil {
				return err
			}
			if err := writeJSONFile(filepath.Join(wellKnown, "jwks.json"), result.JWKS); err != nil {
				return err
			}
			if err := osWriteFile(filepath.Join(wellKnown, "trust.txt"), []byte(result.TrustTXT)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote artefacts for %s under %s\n", result.DIDDocument.ID, wellKnown)
			return nil
		},
	}

	cmd.Flags().StringVar(&keysDir, "keys", cfg.KeysDir, "key directory")
	cmd.Flags().StringVar(&domain, "domain", cfg.Domain, "domain to onboard")
	cmd.Flags().StringSliceVar(&frameworks, "frameworks", nil, "frameworks advertised in trust.txt")
	cmd.Flags().StringVar(&outDir, "out", "", "write artefacts under <out>/.well-known/")
	return cmd
}
