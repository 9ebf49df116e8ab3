package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbulle/remote-ai-ide/internal/client"
	"github.com/tbulle/remote-ai-ide/internal/protocol"
)

var attachProject string

var attachCmd = &cobra.Command{
	Use:   "attach [session-id]",
	Short: "Attach to a session and chat with the agent",
	Long: "Attach to an existing session, or create one for the current " +
		"directory, and hold a line-oriented conversation. Survives " +
		"connection drops: missed messages are replayed on reconnect.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := cfg.FindServer(serverName)
		if err != nil {
			return err
		}
		rest := client.NewRESTClient(srv.URL, srv.Token)

		sessionID, err := resolveSession(rest, args)
		if err != nil {
			return err
		}

		ws, err := client.NewWSClient(srv.URL, srv.Token)
		if err != nil {
			return fmt.Errorf("websocket: %w", err)
		}
		defer ws.Close()

		return chatLoop(ws, rest, sessionID)
	},
}

func resolveSession(rest *client.RESTClient, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	dir := attachProject
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = cwd
	}
	fmt.Fprintf(os.Stderr, "Creating session for %s...\n", dir)
	sess, err := rest.CreateSession(dir)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Session: %s\n", sess.ID)
	return sess.ID, nil
}

// chatLoop multiplexes stdin lines, server events, and reconnect signals.
// A pending permission request claims the next stdin line as its answer.
func chatLoop(ws *client.WSClient, rest *client.RESTClient, sessionID string) error {
	rec := client.NewReconciler(sessionID)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// Re-synchronize status before relying on replay.
	ws.Send(protocol.ClientFrame{Type: protocol.TypeSwitchSession, SessionID: sessionID})

	var pendingPermission string // outstanding requestId, if any
	fmt.Print("> ")

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				fmt.Print("> ")
				continue
			}

			if pendingPermission != "" {
				allowed := strings.EqualFold(line, "y") || strings.EqualFold(line, "yes")
				ws.Send(protocol.ClientFrame{
					Type:      protocol.TypePermissionResponse,
					SessionID: sessionID,
					RequestID: pendingPermission,
					Allowed:   &allowed,
				})
				pendingPermission = ""
				continue
			}

			rec.AddLocalUserTurn(line)
			ws.Send(protocol.ClientFrame{
				Type:      protocol.TypeUserMessage,
				SessionID: sessionID,
				Text:      line,
			})

		case raw, ok := <-ws.Messages:
			if !ok {
				return nil
			}
			ev, err := protocol.ParseServerEvent(raw)
			if err != nil {
				continue
			}
			switch {
			case ev.Chunk != nil && ev.Chunk.SessionID == sessionID:
				rec.ApplyChunk(ev.Chunk.Content, ev.Chunk.Seq)
				fmt.Print(ev.Chunk.Content)

			case ev.Message != nil && ev.Message.SessionID == sessionID:
				rec.ApplyFinal(ev.Message.Content, ev.Message.Seq)
				fmt.Print("\n> ")

			case ev.Permission != nil && ev.Permission.SessionID == sessionID:
				pendingPermission = ev.Permission.RequestID
				fmt.Printf("\n[permission] %s. Allow? [y/N]", ev.Permission.Description)

			case ev.Result != nil && ev.Result.SessionID == sessionID && !ev.Result.Success:
				fmt.Printf("\n[error] %s\n> ", ev.Result.Error)
			}

		case <-ws.Reconnected:
			detail, err := rest.GetSessionSince(sessionID, rec.LastSeq())
			if err != nil {
				fmt.Fprintf(os.Stderr, "\nreplay failed: %v\n", err)
				continue
			}
			rec.MergeReplay(detail.Messages)
			ws.Send(protocol.ClientFrame{Type: protocol.TypeSwitchSession, SessionID: sessionID})

		case <-ws.Done:
			return fmt.Errorf("connection lost")
		}
	}
}

func init() {
	attachCmd.Flags().StringVar(&attachProject, "project", "", "project path for a new session (defaults to cwd)")
}
