package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmcleod/deskd"
	"github.com/jmcleod/deskd/session"
)

var loginRole string

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Authenticate against the ticket API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := deskd.Role(loginRole)
		if !role.Valid() {
			return fmt.Errorf("invalid role %q: must be %q or %q", loginRole, deskd.RoleUser, deskd.RoleAdmin)
		}

		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		m, closeSession, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer closeSession()

		user, err := m.Login(cmd.Context(), args[0], password, role)
		if err != nil {
			if session.IsAuthFailure(err) {
				return fmt.Errorf("login failed: %w", err)
			}
			return err
		}
		fmt.Printf("Logged in as %s (%s)\n", user.Email, user.Role)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginRole, "role", string(deskd.RoleUser), "role to sign in as (user or admin)")
	rootCmd.AddCommand(loginCmd)
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		defer fmt.Fprintln(os.Stderr)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
