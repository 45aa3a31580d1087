package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/deepchat/pkg/orchestrator"
	"github.com/harun/deepchat/pkg/search"
	"github.com/harun/deepchat/pkg/stream"
)

var (
	chatSession  string
	chatAgent    string
	chatNoStream bool
	chatTimeout  time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the running daemon",
	Long: `Send one chat message to the running daemon and print the answer.
Progress events are printed as they arrive unless --no-stream is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "default", "session id")
	chatCmd.Flags().StringVar(&chatAgent, "agent", "research", "agent type (research, critique, general)")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "wait for the whole answer instead of streaming")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 5*time.Minute, "maximum time to wait for the answer")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	req := orchestrator.Request{
		Message:   strings.Join(args, " "),
		SessionID: chatSession,
		AgentType: chatAgent,
	}
	client := newAPIClient(resolveServerURL(cfg), chatTimeout)
	out := cmd.OutOrStdout()

	if chatNoStream {
		resp, err := client.Chat(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resp.Message)
		printSources(out, resp.Sources)
		return nil
	}

	var failed string
	err = client.Stream(cmd.Context(), req, func(ev stream.Event) {
		switch ev.Type {
		case stream.EventContent:
			fmt.Fprint(out, ev.Message)
		case stream.EventComplete:
			fmt.Fprintln(out)
			fmt.Fprintln(out, ev.Message)
			printSources(out, ev.Sources)
		case stream.EventError:
			failed = ev.Message
		default:
			fmt.Fprintln(cmd.ErrOrStderr(), ev.Message)
		}
	})
	if err != nil {
		return err
	}
	if failed != "" {
		return fmt.Errorf("%s", failed)
	}
	return nil
}

func printSources(out io.Writer, sources []search.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, "Sources:")
	for i, src := range sources {
		fmt.Fprintf(out, "  [%d] %s %s\n", i+1, src.Title, src.URL)
	}
}
