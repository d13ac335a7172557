/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/jjudge-oj/identity/internal/auth"
	"github.com/jjudge-oj/identity/internal/server"
	"github.com/jjudge-oj/identity/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword is swapped out in tests.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

var passwdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Set a user's password",
	Long: `Prompts twice for a new password and stores it for the user.
Any pending password reset for the user is cancelled.

	identity passwd alice01
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requirePersistentStore(cfg, "passwd"); err != nil {
			return err
		}

		password, err := promptNewPassword(cmd)
		if err != nil {
			return err
		}

		hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
		users, err := server.OpenUsers(cmd.Context(), cfg, hasher)
		if err != nil {
			return err
		}
		defer func() {
			_ = users.Close()
		}()

		// Sessions and reset tokens are never issued here.
		accounts := services.NewAccountService(users, hasher, nil, nil, services.WithLogger(logger))
		if err := accounts.SetPassword(cmd.Context(), args[0], password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passwdCmd)
}

func promptNewPassword(cmd *cobra.Command) (string, error) {
	out := cmd.ErrOrStderr()

	fmt.Fprint(out, "New password: ")
	first, err := readPassword()
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	fmt.Fprint(out, "Repeat password: ")
	second, err := readPassword()
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
