package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evanrhodes/tern/pkg/agent"
	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/session"
)

var (
	chatSessionID string
	chatProvider  string
	chatQuiet     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message and stream the reply",
	Long: `Send a message to the configured provider and stream the assistant's
reply to stdout. Without --session a fresh session is created; with
--session the conversation resumes where it left off.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "resume an existing session id")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "provider name (default from config)")
	chatCmd.Flags().BoolVar(&chatQuiet, "quiet", false, "print only the final text")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	pc, err := rt.providerConfig(chatProvider)
	if err != nil {
		return err
	}
	prov, err := rt.buildProvider(pc)
	if err != nil {
		return err
	}
	registry, err := rt.buildRegistry()
	if err != nil {
		return err
	}

	onEvent := func(ev llm.Event) {
		if chatQuiet {
			return
		}
		switch ev.Type {
		case llm.EventTextDelta:
			fmt.Print(ev.Text)
		case llm.EventToolCallStart:
			fmt.Printf("\n[tool %s]\n", ev.ToolName)
		}
	}
	loopCfg := rt.loopConfig(pc, prov, registry, onEvent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var conv *session.Context
	if chatSessionID != "" {
		conv, err = session.Resume(ctx, rt.store, chatSessionID, loopCfg)
	} else {
		conv, err = session.New(ctx, rt.store, loopCfg)
	}
	if err != nil {
		return err
	}

	res, err := conv.Send(ctx, args[0])
	if !chatQuiet {
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if chatQuiet {
		fmt.Println(res.FinalText)
	}
	if res.StopReason != agent.StopComplete {
		fmt.Fprintf(os.Stderr, "stopped: %s\n", res.StopReason)
	}
	fmt.Fprintf(os.Stderr, "session: %s (tokens: %d)\n", conv.ID(), res.TotalUsage.Total())

	return nil
}
