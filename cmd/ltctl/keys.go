package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	pkgcrypto "github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/crypto/keyseal"
)

// Key pair file names written by keygen.
const (
	privateKeyFile = "export_ed25519.pem"
	publicKeyFile  = "export_ed25519.pub.pem"
	sealLabel      = "lokaltreu-audit-export"
)

type keyFiles struct {
	Private     string `json:"private_key"`
	Public      string `json:"public_key"`
	Fingerprint string `json:"public_key_fingerprint_sha256"`
	Sealed      bool   `json:"sealed"`
}

// writeKeyPair generates an Ed25519 export key pair under dir. The private
// key is sealed when passphrase is set.
func writeKeyPair(dir, passphrase string) (keyFiles, error) {
	pub, priv, err := pkgcrypto.GenerateEd25519()
	if err != nil {
		return keyFiles{}, err
	}
	privPEM, err := pkgcrypto.MarshalPrivateKeyPEM(priv)
	if err != nil {
		return keyFiles{}, err
	}
	if passphrase != "" {
		if privPEM, err = keyseal.SealPEM([]byte(passphrase), privPEM, sealLabel); err != nil {
			return keyFiles{}, err
		}
	}
	pubPEM, err := pkgcrypto.MarshalPublicKeyPEM(pub)
	if err != nil {
		return keyFiles{}, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return keyFiles{}, err
	}
	out := keyFiles{
		Private:     filepath.Join(dir, privateKeyFile),
		Public:      filepath.Join(dir, publicKeyFile),
		Fingerprint: pkgcrypto.FingerprintSHA256(pubPEM),
		Sealed:      passphrase != "",
	}
	// O_EXCL: never overwrite an existing key.
	f, err := os.OpenFile(out.Private, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return keyFiles{}, err
	}
	if _, err := f.Write(privPEM); err != nil {
		_ = f.Close()
		return keyFiles{}, err
	}
	if err := f.Close(); err != nil {
		return keyFiles{}, err
	}
	if err := os.WriteFile(out.Public, pubPEM, 0o644); err != nil {
		return keyFiles{}, err
	}
	return out, nil
}

func (a *app) keygenCmd() *cobra.Command {
	var dir, passphrase string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 audit export key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passphrase == "" {
				passphrase = a.env.String("EXPORT_KEY_PASSPHRASE", "")
			}
			files, err := writeKeyPair(dir, passphrase)
			if err != nil {
				return fmt.Errorf("keygen: %w", err)
			}
			return a.printJSON(files)
		},
	}
	cmd.Flags().StringVar(&dir, "out", ".", "output directory")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "seal the private key with this passphrase")
	return cmd
}
