package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/grcorsair/corsair/pkg/config"
	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/evidence"
	"github.com/grcorsair/corsair/pkg/evidencelog"
)

func newIssueCmd() *cobra.Command {
	cfg := config.Load()
	var (
		keysDir      string
		domain       string
		expiryDays   int
		receipts     bool
		register     bool
		evidenceLogP string
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "issue <evidence.json>",
		Short: "Issue a signed credential from normalized evidence",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return badArgs("exactly one evidence file required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiryDays == 0 {
				return badArgs("--expiry-days is required and must be non-zero")
			}

			raw, err := readFileArg(args[0])
			if err != nil {
				return err
			}
			var ev evidence.Normalized
			if err := json.Unmarshal(raw, &ev); err != nil {
				return badArgs("evidence is not valid JSON: %v", err)
			}

			mgr, err := openKeys(keysDir, true)
			if err != nil {
				return err
			}

			req := credential.IssueRequest{
				Evidence:           &ev,
				IssuerDID:          did.EncodeWebDID(domain),
				ExpiryDays:         expiryDays,
				CaptureReceipts:    receipts,
				RegisterCredential: register,
			}
			if evidenceLogP != "" {
				log, err := evidencelog.Open(evidenceLogP)
				if err != nil {
					return err
				}
				req.EvidenceLog = log
			}

			gen := credential.NewGenerator(mgr, scittRegistry(cmd, cfg, mgr, register))
			result, err := gen.Issue(cmd.Context(), req)
			if err != nil {
				return err
			}

			if outPath != "" {
				return writeJSONFile(outPath, result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.JWT)
			return nil
		},
	}

	cmd.Flags().StringVar(&keysDir, "keys", cfg.KeysDir, "key directory")
	cmd.Flags().StringVar(&domain, "domain", cfg.Domain, "issuer domain (did:web)")
	cmd.Flags().IntVar(&expiryDays, "expiry-days", 0, "credential validity in days (required)")
	cmd.Flags().BoolVar(&receipts, "receipts", false, "capture process receipts")
	cmd.Flags().BoolVar(&register, "register", false, "register in the transparency log")
	cmd.Flags().StringVar(&evidenceLogP, "evidence-log", "", "evidence hash-chain file to bind")
	cmd.Flags().StringVar(&outPath, "out", "", "write full issue result JSON to file")
	return cmd
}

func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(raw, '\n'))
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := mkdirAll(dir); err != nil {
			return err
		}
	}
	return osWriteFile(path, data)
}
