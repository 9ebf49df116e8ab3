package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbulle/remote-ai-ide/internal/client"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured servers and their health",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tURL\tSTATUS\tSESSIONS")
		for _, srv := range cfg.Servers {
			rest := client.NewRESTClient(srv.URL, srv.Token)
			status, sessions := "unreachable", "-"
			if health, err := rest.Health(); err == nil {
				status = health.Status
				sessions = fmt.Sprintf("%d", health.ActiveSessions)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", srv.Name, srv.URL, status, sessions)
		}
		return w.Flush()
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage agent sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		rest, err := restClient()
		if err != nil {
			return err
		}
		sessions, err := rest.ListSessions()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tMESSAGES\tLAST ACTIVITY\tDIRECTORY")
		for _, s := range sessions {
			last := time.UnixMilli(s.LastActivity).Format(time.RFC3339)
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Status, s.MessageCount, last, s.WorkDir)
		}
		return w.Flush()
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create <working-directory>",
	Short: "Create a session rooted at the given directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rest, err := restClient()
		if err != nil {
			return err
		}
		sess, err := rest.CreateSession(args[0])
		if err != nil {
			return err
		}
		fmt.Println(sess.ID)
		return nil
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <session-id>",
	Short: "Delete a session, cancelling any in-flight run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rest, err := restClient()
		if err != nil {
			return err
		}
		return rest.DeleteSession(args[0])
	},
}

func restClient() (*client.RESTClient, error) {
	srv, err := cfg.FindServer(serverName)
	if err != nil {
		return nil, err
	}
	return client.NewRESTClient(srv.URL, srv.Token), nil
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsCreateCmd, sessionsRmCmd)
}
