package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grcorsair/corsair/pkg/config"
	"github.com/grcorsair/corsair/pkg/scitt"
)

func newSCITTCmd() *cobra.Command {
	cfg := config.Load()
	var keysDir string

	cmd := &cobra.Command{
		Use:   "scitt",
		Short: "Operate the transparency log",
	}
	cmd.PersistentFlags().StringVar(&keysDir, "keys", cfg.KeysDir, "key directory")

	open := func() (*scitt.Log, error) {
		mgr, err := openKeys(keysDir, true)
		if err != nil {
			return nil, err
		}
		return openSCITT(cfg, mgr)
	}

	register := &cobra.Command{
		Use:   "register <statement-file>",
		Short: "Register a statement and print its entry id",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return badArgs("exactly one statement file required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readFileArg(args[0])
			if err != nil {
				return err
			}
			log, err := open()
			if err != nil {
				return err
			}
			result, err := log.Register(cmd.Context(), raw)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	receipt := &cobra.Command{
		Use:   "receipt <entry-id>",
		Short: "Fetch the COSE inclusion receipt for an entry",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return badArgs("exactly one entry id required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := open()
			if err != nil {
				return err
			}
			r := log.GetReceipt(cmd.Context(), args[0])
			if r == nil {
				return fmt.Errorf("no receipt for %s", args[0])
			}
			return printJSON(cmd, r)
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <entry-id>",
		Short: "Verify an entry's receipt under the log key",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return badArgs("exactly one entry id required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openKeys(keysDir, true)
			if err != nil {
				return err
			}
			log, err := openSCITT(cfg, mgr)
			if err != nil {
				return err
			}
			if !log.VerifyReceipt(cmd.Context(), args[0], mgr.Public()) {
				return fmt.Errorf("receipt for %s does not verify", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "receipt verified")
			return nil
		},
	}

	var (
		listIssuer    string
		listFramework string
		listLimit     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered entries in insertion order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := open()
			if err != nil {
				return err
			}
			entries, err := log.List(cmd.Context(), scitt.ListOptions{
				Issuer:    listIssuer,
				Framework: listFramework,
				Limit:     listLimit,
			})
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n",
					e.TreeSize, e.EntryID, e.Issuer, e.Frameworks)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listIssuer, "issuer", "", "filter by issuer DID")
	list.Flags().StringVar(&listFramework, "framework", "", "filter by framework")
	list.Flags().IntVar(&listLimit, "limit", 100, "page size")

	cmd.AddCommand(register, receipt, verifyCmd, list)
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
