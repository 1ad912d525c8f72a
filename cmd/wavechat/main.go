package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/wavechat/chatkit/internal/api"
	"github.com/wavechat/chatkit/internal/chat"
	"github.com/wavechat/chatkit/internal/config"
	"github.com/wavechat/chatkit/internal/logging"
	"github.com/wavechat/chatkit/internal/storage"
	"github.com/wavechat/chatkit/internal/version"
	"github.com/wavechat/chatkit/pkg/types"
)

func main() {
	app := &cli.App{
		Name:    "wavechat",
		Usage:   "command-line client for the WaveChat messaging service",
		Version: version.RichVersion(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.Bool("debug") {
				cfg.Debug = true
			}
			logging.Setup(cfg.Debug)
			c.App.Metadata["config"] = cfg
			return nil
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			conversationsCommand(),
			watchCommand(),
			sendCommand(),
			searchCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func appConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "authenticate and store the session locally",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "password (prompted when omitted)"},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)

			password := c.String("password")
			if password == "" {
				fmt.Fprint(os.Stderr, "Password: ")
				raw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = string(raw)
			}

			client := api.NewClient(cfg.ServerURL, "")
			result, err := client.Login(c.Context, c.String("username"), password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			creds := &storage.Credentials{
				Token:        result.Token,
				RefreshToken: result.RefreshToken,
				UserID:       result.User.ID,
				DisplayName:  result.User.DisplayName,
			}
			if err := storage.SaveCredentials(cfg.CredentialsPath(), creds); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s\n", result.User.DisplayName)
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "end the server session and remove stored credentials",
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)

			creds, err := storage.LoadCredentials(cfg.CredentialsPath())
			if err == nil {
				client := api.NewClient(cfg.ServerURL, creds.Token)
				if err := client.Logout(c.Context); err != nil {
					log.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
				}
			}
			if err := storage.ClearCredentials(cfg.CredentialsPath()); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

// openSession loads persisted credentials and starts the full messaging
// session (REST, broker and mirror).
func openSession(c *cli.Context) (*chat.Session, error) {
	cfg := appConfig(c)

	creds, err := storage.LoadCredentials(cfg.CredentialsPath())
	if err != nil {
		if errors.Is(err, storage.ErrNoCredentials) {
			return nil, errors.New("not logged in, run `wavechat login` first")
		}
		return nil, err
	}

	session := chat.NewSession(cfg, creds)
	if err := session.Start(c.Context); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

func conversationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "conversations",
		Aliases: []string{"ls"},
		Usage:   "list the user's conversations",
		Action: func(c *cli.Context) error {
			session, err := openSession(c)
			if err != nil {
				return err
			}
			defer session.Close()

			conversations := session.Mirror().Conversations()
			if len(conversations) == 0 {
				fmt.Println("No conversations")
				return nil
			}
			for _, conv := range conversations {
				marker := " "
				if conv.UnreadCount > 0 {
					marker = fmt.Sprintf("%d", conv.UnreadCount)
				}
				fmt.Printf("%-36s %3s  %s\n", conv.ID, marker, conversationLabel(conv, session))
			}
			return nil
		},
	}
}

func conversationLabel(conv types.Conversation, session *chat.Session) string {
	title := conv.Title(session.Mirror().ViewerID())
	if conv.LastMessage != "" {
		return fmt.Sprintf("%s: %s", title, conv.LastMessage)
	}
	return title
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "open a conversation and stream incoming messages",
		ArgsUsage: "<conversation-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: wavechat watch <conversation-id>")
			}
			session, err := openSession(c)
			if err != nil {
				return err
			}
			defer session.Close()

			mirror := session.Mirror()
			conv, ok := findConversation(mirror, c.Args().First())
			if !ok {
				return fmt.Errorf("unknown conversation %q", c.Args().First())
			}
			if err := mirror.SelectConversation(c.Context, conv); err != nil {
				return err
			}
			for _, msg := range mirror.Messages() {
				printMessage(msg)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Poll the mirror for new state; the mirror itself is push-driven.
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			seen := len(mirror.Messages())
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if state := mirror.Connection(); state.Failed {
						return fmt.Errorf("connection lost: %s", state.Reason)
					}
					messages := mirror.Messages()
					for ; seen < len(messages); seen++ {
						printMessage(messages[seen])
					}
					if len(messages) < seen {
						seen = len(messages)
					}
					if typing := mirror.TypingUsers(conv.ID); len(typing) > 0 {
						names := make([]string, len(typing))
						for i, u := range typing {
							names[i] = u.Name
						}
						fmt.Fprintf(os.Stderr, "[%s typing...]\n", strings.Join(names, ", "))
					}
				}
			}
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send a text message to a conversation",
		ArgsUsage: "<conversation-id> <text>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return errors.New("usage: wavechat send <conversation-id> <text>")
			}
			session, err := openSession(c)
			if err != nil {
				return err
			}
			defer session.Close()

			mirror := session.Mirror()
			conv, ok := findConversation(mirror, c.Args().First())
			if !ok {
				return fmt.Errorf("unknown conversation %q", c.Args().First())
			}
			ack, err := mirror.SendMessage(c.Context, chat.SendMessageInput{
				ConversationID: conv.ID,
				Content:        strings.Join(c.Args().Slice()[1:], " "),
				MessageType:    types.MessageText,
			})
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", ack.ID)
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search messages in a conversation by keyword",
		ArgsUsage: "<conversation-id> <keyword>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Value: 0},
			&cli.IntFlag{Name: "size", Value: 20},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("usage: wavechat search <conversation-id> <keyword>")
			}
			session, err := openSession(c)
			if err != nil {
				return err
			}
			defer session.Close()

			results, err := session.Mirror().SearchMessages(
				c.Context, c.Args().Get(0), c.Args().Get(1), c.Int("page"), c.Int("size"))
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches")
				return nil
			}
			w := bufio.NewWriter(os.Stdout)
			defer w.Flush()
			for _, msg := range results {
				fmt.Fprintf(w, "%s  %s  %s\n", msg.CreatedAt.Format(time.RFC3339), msg.SenderID, msg.DisplayContent())
			}
			return nil
		},
	}
}

func findConversation(mirror *chat.Mirror, id string) (types.Conversation, bool) {
	for _, conv := range mirror.Conversations() {
		if conv.ID == id {
			return conv, true
		}
	}
	return types.Conversation{}, false
}

func printMessage(msg types.Message) {
	content := msg.DisplayContent()
	if content == "" && msg.IsRecalled {
		content = "[recalled]"
	}
	fmt.Printf("%s  %s  %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderID, content)
}
