package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/storegate/security"
)

func newKeygenCmd() *cobra.Command {
	var adminToken string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key and optionally hash an admin token",
		Long: `Prints a new base64 AES-256 key for security.encryptionKey.

With --admin-token, also prints the bcrypt hash to put in
security.adminTokenHash. The token itself is never stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := security.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "encryptionKey: %s\n", security.KeyToBase64(key))

			if adminToken == "" {
				return nil
			}
			hash, err := hashAdminToken(adminToken)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "adminTokenHash: %s\n", hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminToken, "admin-token", "", "admin bearer token to hash")
	return cmd
}

func hashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin token: %w", err)
	}
	return string(hash), nil
}
