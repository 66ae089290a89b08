package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"patchmind/pkg/config"
	"patchmind/pkg/errkind"
	"patchmind/pkg/logx"
)

// envPassword holds the secrets password for non-interactive runs.
const envPassword = "PATCHMIND_PASSWORD"

// annotationSecrets set to "unlock" makes setup decrypt the secrets file before the command runs.
const annotationSecrets = "secrets"

// errCancelled marks a run that ended because the user cancelled it.
var errCancelled = errors.New("cancelled")

// cli is the state shared by all subcommands.
type cli struct {
	in         io.Reader
	projectDir string
	cfg        config.Config
	tee        bool
	debug      bool
}

func newRootCmd() *cobra.Command {
	c := &cli{in: os.Stdin}

	root := &cobra.Command{
		Use:   "patchmind",
		Short: "Model-assisted code edits with a reviewable change queue",
		Long: `patchmind assembles project files, prompt snippets and retrieved passages into a
token-budgeted context, streams a model's answer, and queues the edits it proposes
so they can be previewed and applied with fuzzy anchor matching.`,
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.projectDir, "projectdir", ".", "Project directory")
	root.PersistentFlags().BoolVar(&c.tee, "tee", false, "Output logs to both stderr and the log file")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newAskCmd(c),
		newHistoryCmd(c),
		newUsageCmd(c),
		newModelsCmd(c),
		newSecretsCmd(c),
		newEstimateCmd(c),
	)
	return root
}

// setup loads the project config, starts file logging and, for commands that call
// providers, unlocks the secrets file.
func (c *cli) setup(cmd *cobra.Command) error {
	dir, err := filepath.Abs(c.projectDir)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}
	c.projectDir = dir

	if err := config.Load(dir); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Get()
	if err != nil {
		return fmt.Errorf("get config: %w", err)
	}
	c.cfg = cfg

	if c.debug {
		logx.SetDebug(true)
	}
	if err := logx.InitializeLogFile(c.resolve(cfg.Logs.Dir), cfg.Logs.Keep, c.tee || cfg.Logs.Tee); err != nil {
		return fmt.Errorf("initialize log file: %w", err)
	}

	if cmd.Annotations[annotationSecrets] != "unlock" || !config.SecretsFileExists(dir) {
		return nil
	}
	password, err := c.readPassword("Secrets password: ")
	if err != nil {
		return err
	}
	if err := config.LoadSecretsFile(dir, password); err != nil {
		return fmt.Errorf("unlock secrets: %w", err)
	}
	return nil
}

// resolve makes a config path absolute relative to the project directory.
func (c *cli) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.projectDir, path)
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readPassword returns PATCHMIND_PASSWORD when set, otherwise prompts on the terminal.
func (c *cli) readPassword(prompt string) (string, error) {
	if pw := os.Getenv(envPassword); pw != "" {
		return pw, nil
	}
	if !stdinIsTerminal() {
		return "", fmt.Errorf("secrets file is encrypted: set %s or run in a terminal", envPassword)
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// newPassword prompts twice and requires both entries to match.
func (c *cli) newPassword() (string, error) {
	if pw := os.Getenv(envPassword); pw != "" {
		return pw, nil
	}
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		first, err := c.readPassword("New secrets password: ")
		if err != nil {
			return "", err
		}
		second, err := c.readPassword("Confirm password: ")
		if err != nil {
			return "", err
		}
		if first == second && first != "" {
			return first, nil
		}
		fmt.Fprintln(os.Stderr, "Passwords do not match or are empty. Please try again.")
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// exitCode maps a command error to a process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errCancelled):
		return 130
	case errkind.Is(err, errkind.InvalidRequest), errkind.Is(err, errkind.BudgetExceeded):
		return 2
	default:
		return 1
	}
}
