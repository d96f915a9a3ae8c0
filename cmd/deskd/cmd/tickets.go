package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/deskd/client"
	"github.com/jmcleod/deskd/session"
)

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Work with tickets",
}

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets visible to the current user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeSession, err := requireLogin(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		tickets, err := m.API().ListTickets(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTITLE")
		for _, t := range tickets {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.Title)
		}
		return w.Flush()
	},
}

var (
	ticketTitle       string
	ticketDescription string
	ticketPriority    string
)

var ticketsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new ticket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ticketTitle == "" {
			return fmt.Errorf("--title is required")
		}

		m, closeSession, err := requireLogin(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		created, err := m.API().CreateTicket(cmd.Context(), client.NewTicket{
			Title:       ticketTitle,
			Description: ticketDescription,
			Priority:    client.Priority(ticketPriority),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created ticket %d: %s\n", created.ID, created.Title)
		return nil
	},
}

// requireLogin opens the session and fails fast when nobody is logged in,
// instead of letting every ticket call bounce off a 401.
func requireLogin(cmd *cobra.Command) (*session.Manager, func(), error) {
	m, closeSession, err := openSession(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	if _, ok := m.CurrentUser(); !ok {
		closeSession()
		return nil, nil, fmt.Errorf("not logged in; run 'deskd login' first")
	}
	return m, closeSession, nil
}

func init() {
	ticketsCreateCmd.Flags().StringVar(&ticketTitle, "title", "", "ticket title")
	ticketsCreateCmd.Flags().StringVar(&ticketDescription, "description", "", "ticket description")
	ticketsCreateCmd.Flags().StringVar(&ticketPriority, "priority", string(client.PriorityLow), "priority (low, medium or high)")

	ticketsCmd.AddCommand(ticketsListCmd)
	ticketsCmd.AddCommand(ticketsCreateCmd)
	rootCmd.AddCommand(ticketsCmd)
}
