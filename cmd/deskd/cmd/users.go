package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/deskd"
	"github.com/jmcleod/deskd/client"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts (admin only)",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active user accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeSession, err := requireLogin(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		users, err := m.API().ListUsers(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tROLE\tEMAIL")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.Role, u.Email)
		}
		return w.Flush()
	},
}

var (
	newUserEmail    string
	newUserPassword string
	newUserRole     string
)

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if newUserEmail == "" || newUserPassword == "" {
			return fmt.Errorf("--email and --password are required")
		}
		role := deskd.Role(newUserRole)
		if !role.Valid() {
			return fmt.Errorf("invalid role %q (want %q or %q)", newUserRole, deskd.RoleUser, deskd.RoleAdmin)
		}

		m, closeSession, err := requireLogin(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		created, err := m.API().CreateUser(cmd.Context(), client.NewUser{
			Email:    newUserEmail,
			Password: newUserPassword,
			Role:     role,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created user %d: %s (%s)\n", created.ID, created.Email, created.Role)
		return nil
	},
}

var usersBlockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "Block a user account from logging in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		m, closeSession, err := requireLogin(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		if err := m.API().BlockUser(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Blocked user %d\n", id)
		return nil
	},
}

func init() {
	usersCreateCmd.Flags().StringVar(&newUserEmail, "email", "", "email address for the new account")
	usersCreateCmd.Flags().StringVar(&newUserPassword, "password", "", "initial password")
	usersCreateCmd.Flags().StringVar(&newUserRole, "role", string(deskd.RoleUser), "account role (user or admin)")

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersBlockCmd)
	rootCmd.AddCommand(usersCmd)
}
