package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored session ids",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions older than the configured cleanup age",
	RunE:  runSessionsPrune,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ids, err := rt.store.List(context.Background())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, id := range ids {
		s, err := rt.store.Load(context.Background(), id)
		if err != nil {
			fmt.Printf("%s  (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Printf("%s  turns=%d tokens=%d updated=%s\n",
			id, s.Meta.TurnCount, s.Meta.TotalTokens,
			s.Meta.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	s, err := rt.store.Load(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("session %s  created=%s turns=%d tokens=%d\n\n",
		s.Meta.ID, s.Meta.CreatedAt.Format(time.RFC3339),
		s.Meta.TurnCount, s.Meta.TotalTokens)

	for _, m := range s.Messages {
		switch m.Role {
		case llm.RoleTool:
			fmt.Printf("[tool %s] %s\n", m.ToolCallID, m.Content)
		case llm.RoleAssistant:
			fmt.Printf("[assistant] %s\n", m.Content)
			for _, call := range m.ToolCalls {
				fmt.Printf("  -> %s(%s) id=%s\n", call.Name, call.Arguments, call.ID)
			}
		default:
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.store.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func runSessionsPrune(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	maxAge := time.Duration(rt.cfg.Session.CleanupAgeDays) * 24 * time.Hour
	cleanup := session.NewCleanup(rt.store, maxAge, rt.log.GetZerolog())
	return cleanup.Prune(context.Background())
}
