package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/audit"
	pkgcrypto "github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/crypto/keyseal"
)

func (a *app) verifyCmd() *cobra.Command {
	var dir, pubFile string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an exported audit bundle offline",
		Long: `Checks the manifest signature, schema, key fingerprint, events digest,
size, line count and hash chain of one bundle directory.

Exit status: 0 valid, 1 unreadable input, 2 integrity failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := audit.VerifyDir(dir, pubFile)
			if err != nil {
				return err
			}
			if err := a.printJSON(sum); err != nil {
				return err
			}
			if code := audit.ExitCode(sum, nil); code != audit.ExitOK {
				return exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "bundle directory with events.ndjson, meta.json and meta.sig")
	cmd.Flags().StringVar(&pubFile, "public-key", "", "export public key (PEM)")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

// loadSigningKey reads the export key pair. A sealed private key needs the
// passphrase.
func loadSigningKey(id, privFile, pubFile, passphrase string) (audit.SigningKey, error) {
	if privFile == "" || pubFile == "" {
		return audit.SigningKey{}, fmt.Errorf("EXPORT_KEY_FILE and EXPORT_PUBLIC_KEY_FILE are required")
	}
	privPEM, err := os.ReadFile(privFile)
	if err != nil {
		return audit.SigningKey{}, err
	}
	if keyseal.IsSealed(privPEM) {
		if passphrase == "" {
			return audit.SigningKey{}, fmt.Errorf("private key is sealed: EXPORT_KEY_PASSPHRASE is required")
		}
		if privPEM, err = keyseal.OpenPEM([]byte(passphrase), privPEM); err != nil {
			return audit.SigningKey{}, fmt.Errorf("open sealed key: %w", err)
		}
	}
	priv, err := pkgcrypto.ParsePrivateKeyPEM(privPEM)
	if err != nil {
		return audit.SigningKey{}, err
	}
	pubPEM, err := os.ReadFile(pubFile)
	if err != nil {
		return audit.SigningKey{}, err
	}
	pub, err := pkgcrypto.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return audit.SigningKey{}, err
	}
	if !pub.Equal(priv.Public()) {
		return audit.SigningKey{}, fmt.Errorf("public key does not match private key")
	}
	if id == "" {
		id = pkgcrypto.FingerprintSHA256(pubPEM)[:16]
	}
	return audit.SigningKey{ID: id, Private: priv, PublicPEM: pubPEM}, nil
}

func (a *app) exportCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the next signed audit batch of every tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := a.env.String("EXPORT_DIR", "")
			if dir == "" {
				return fmt.Errorf("EXPORT_DIR is not set")
			}
			prefix := a.env.String("EXPORT_PREFIX", "audit")
			batch := a.env.Int("EXPORT_BATCH", 500)
			if err := a.env.Err(); err != nil {
				return err
			}
			key, err := loadSigningKey(
				a.env.String("EXPORT_KEY_ID", ""),
				a.env.String("EXPORT_KEY_FILE", ""),
				a.env.String("EXPORT_PUBLIC_KEY_FILE", ""),
				a.env.String("EXPORT_KEY_PASSPHRASE", ""),
			)
			if err != nil {
				return err
			}

			st, closeFn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			x := audit.NewExporter(audit.ExporterConfig{
				Chain:  st.Chain,
				Runs:   st.Runs,
				Store:  audit.NewFileStore(dir),
				Key:    key,
				Prefix: prefix,
				Batch:  batch,
				Log:    a.log.Named("export"),
			})

			var (
				reports []audit.Report
				runErr  error
			)
			if tenant != "" {
				var rep audit.Report
				rep, runErr = x.ExportTenant(cmd.Context(), tenant)
				reports = []audit.Report{rep}
			} else {
				reports, runErr = x.Run(cmd.Context())
			}
			if err := a.printJSON(reports); err != nil {
				return err
			}
			if runErr != nil {
				a.log.Error("export failed", zap.Error(runErr))
				return exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "export only this tenant")
	return cmd
}

func (a *app) gapCheckCmd() *cobra.Command {
	var maxLag time.Duration
	cmd := &cobra.Command{
		Use:   "gap-check",
		Short: "Report tenants whose audit events are not exported in time",
		Long:  "Exit status 2 when any tenant has pending events and no recent successful export.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeFn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			gaps, err := audit.GapCheck(cmd.Context(), st.Chain, st.Runs, a.now(), maxLag)
			if err != nil {
				return err
			}
			if err := a.printJSON(gaps); err != nil {
				return err
			}
			if audit.AnyStale(gaps) {
				return exitError{code: audit.ExitIntegrity}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxLag, "max-lag", audit.DefaultMaxExportLag, "allowed export delay")
	return cmd
}

func (a *app) pruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit events past the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeFn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := audit.Prune(cmd.Context(), st.Chain, olderThan, a.now(), a.log.Named("retention"))
			if err != nil {
				return err
			}
			return a.printJSON(map[string]int64{"deleted": n})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", audit.DefaultRetention, "retention period")
	return cmd
}
