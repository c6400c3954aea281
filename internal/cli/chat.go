package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/harun/panbeh/internal/daemon"
	"github.com/harun/panbeh/pkg/agent"
	"github.com/spf13/cobra"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long: `Open an assistant session in the terminal, without the HTTP gateway.
With --user the session is bound to that panel account and may use the
account tools; without it the session runs as a guest.
Type /exit or press Ctrl-D to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "panel username to chat as (empty for guest)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// keep the terminal free for the conversation
	cfg.Logging.Console = false
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "chat.log")
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity := agent.Identity{Username: strings.TrimSpace(chatUser)}
	sess, _, err := d.GetSessionManager().Open(ctx, "terminal", identity)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer d.GetSessionManager().Close(sess.ID())

	return chatLoop(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatLoop greets, then sends each input line as one turn.
func chatLoop(ctx context.Context, sess *agent.Session, in io.Reader, out io.Writer) error {
	greeting, err := sess.Greet(ctx)
	if err != nil {
		return err
	}
	printMessages(out, greeting)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		msgs, err := sess.Send(ctx, line)
		if errors.Is(err, agent.ErrBusy) {
			fmt.Fprintln(out, "(still answering the previous message)")
			continue
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		// the user's own line is already on screen
		printMessages(out, msgs[1:])
	}
}

func printMessages(out io.Writer, msgs []agent.Message) {
	for _, m := range msgs {
		switch m.Kind {
		case agent.KindCard:
			payload, _ := json.MarshalIndent(m.Payload, "  ", "  ")
			fmt.Fprintf(out, "panbeh [%s] %s\n  %s\n", m.CardType, m.Content, payload)
		case agent.KindText:
			fmt.Fprintf(out, "panbeh: %s\n", m.Content)
		}
	}
}
