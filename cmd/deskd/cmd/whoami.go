package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the currently authenticated user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeSession, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer closeSession()

		user, ok := m.CurrentUser()
		if !ok {
			fmt.Println("Not logged in")
			return nil
		}
		fmt.Printf("%s (id %d, role %s)\n", user.Email, user.ID, user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
