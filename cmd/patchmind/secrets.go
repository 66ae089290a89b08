package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"patchmind/pkg/config"
)

func newSecretsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted secrets file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set NAME",
			Short: "Store a secret; the value is read from the terminal or stdin",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				password, err := c.unlockSecrets(true)
				if err != nil {
					return err
				}
				value, err := c.readSecretValue(args[0])
				if err != nil {
					return err
				}
				config.SetSecret(args[0], value)
				if err := config.SaveSecretsToFile(c.projectDir, password); err != nil {
					return err //nolint:wrapcheck // descriptive
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", args[0], config.SecretsPath(c.projectDir))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Remove a secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !config.SecretsFileExists(c.projectDir) {
					return fmt.Errorf("no secrets file in %s", c.projectDir)
				}
				password, err := c.unlockSecrets(false)
				if err != nil {
					return err
				}
				config.DeleteSecret(args[0])
				if err := config.SaveSecretsToFile(c.projectDir, password); err != nil {
					return err //nolint:wrapcheck // descriptive
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored secret names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if !config.SecretsFileExists(c.projectDir) {
					fmt.Fprintln(cmd.OutOrStdout(), "no secrets stored")
					return nil
				}
				if _, err := c.unlockSecrets(false); err != nil {
					return err
				}
				for _, name := range config.SecretNames() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
	)
	return cmd
}

// unlockSecrets loads the secrets file and returns its password. Without a file, create
// asks for a new password.
func (c *cli) unlockSecrets(create bool) (string, error) {
	if !config.SecretsFileExists(c.projectDir) {
		if !create {
			return "", fmt.Errorf("no secrets file in %s", c.projectDir)
		}
		return c.newPassword()
	}
	password, err := c.readPassword("Secrets password: ")
	if err != nil {
		return "", err
	}
	if err := config.LoadSecretsFile(c.projectDir, password); err != nil {
		return "", fmt.Errorf("unlock secrets: %w", err)
	}
	return password, nil
}

// readSecretValue reads without echo on a terminal, otherwise one line from stdin.
func (c *cli) readSecretValue(name string) (string, error) {
	if stdinIsTerminal() {
		fmt.Fprintf(os.Stderr, "Value for %s: ", name)
		value, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read value: %w", err)
		}
		return string(value), nil
	}
	line, err := bufio.NewReader(c.in).ReadString('\n')
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		if err != nil {
			return "", fmt.Errorf("read value for %s: %w", name, err)
		}
		return "", fmt.Errorf("empty value for %s", name)
	}
	return value, nil
}
