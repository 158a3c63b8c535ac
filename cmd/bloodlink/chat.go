package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/developerYeasin/blood-donation-backend/internal/auth"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

func chatCmd() *cobra.Command {
	var (
		flagURL   string
		flagToken string
		flagUser  int64
		flagRoom  int64
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive socket client for manual testing",
		Long: `Connect to a running server's /socket endpoint, join a conversation
room and exchange messages from the terminal.

Lines are sent as messages to the current room. Commands:
  /join <conversation_id>   switch rooms
  /leave                    leave the current room
  /typing                   send a typing indicator
  /quit                     disconnect

Without --token, a token for --user is signed with JWT_SECRET when it is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := flagToken
			if token == "" && flagUser > 0 {
				if cfg, err := loadConfig(); err == nil && cfg.JWTSecret != "" {
					token, err = auth.NewVerifier(cfg.JWTSecret).Sign(flagUser, time.Hour)
					if err != nil {
						return err
					}
				}
			}

			header := http.Header{}
			if token != "" {
				header.Set("Authorization", "Bearer "+token)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(flagURL, header)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("dial %s: %s: %w", flagURL, resp.Status, err)
				}
				return fmt.Errorf("dial %s: %w", flagURL, err)
			}
			defer func() { _ = conn.Close() }()

			c := &chatClient{conn: conn, user: flagUser, out: os.Stdout}
			go c.readLoop()

			if flagRoom > 0 {
				if err := c.join(flagRoom); err != nil {
					return err
				}
			}
			return c.inputLoop(os.Stdin, isInteractive())
		},
	}

	cmd.Flags().StringVar(&flagURL, "url", "ws://localhost:3048/socket", "Socket endpoint")
	cmd.Flags().StringVar(&flagToken, "token", "", "Bearer token")
	cmd.Flags().Int64Var(&flagUser, "user", 0, "Sender user id")
	cmd.Flags().Int64Var(&flagRoom, "room", 0, "Conversation to join on connect")
	return cmd
}

// isInteractive returns true if stdin is a terminal.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

type chatClient struct {
	conn *websocket.Conn
	user int64
	room int64
	out  io.Writer
}

func (c *chatClient) emit(event string, data any) error {
	frame, err := types.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *chatClient) join(room int64) error {
	if c.room != 0 {
		if err := c.emit(types.EventLeaveRoom, types.RoomID(c.room)); err != nil {
			return err
		}
	}
	c.room = room
	fmt.Fprintf(c.out, "* joined room %d\n", room)
	return c.emit(types.EventJoinRoom, types.RoomID(room))
}

func (c *chatClient) inputLoop(in io.Reader, prompt bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(c.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit":
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case "/join":
			room, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
			if err != nil || room <= 0 {
				fmt.Fprintln(c.out, "* usage: /join <conversation_id>")
				continue
			}
			if err := c.join(room); err != nil {
				return err
			}
		case "/leave":
			if c.room == 0 {
				continue
			}
			if err := c.emit(types.EventLeaveRoom, types.RoomID(c.room)); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "* left room %d\n", c.room)
			c.room = 0
		case "/typing":
			if c.room != 0 {
				if err := c.emit(types.EventTyping, types.RoomID(c.room)); err != nil {
					return err
				}
			}
		default:
			if c.room == 0 {
				fmt.Fprintln(c.out, "* join a room first: /join <conversation_id>")
				continue
			}
			err := c.emit(types.EventSendMessage, map[string]any{
				"conversation_id": c.room,
				"sender_id":       c.user,
				"content":         line,
			})
			if err != nil {
				return err
			}
		}
	}
}

func (c *chatClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(c.out, "* disconnected: %v\n", err)
			}
			return
		}
		c.print(data)
	}
}

func (c *chatClient) print(data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fmt.Fprintf(c.out, "* %s\n", data)
		return
	}

	switch env.Event {
	case types.EventReceiveMessage:
		var m types.ReceiveMessagePayload
		if err := json.Unmarshal(env.Data, &m); err == nil {
			name := m.SenderName
			if name == "" {
				name = "user " + strconv.FormatInt(m.SenderID, 10)
			}
			fmt.Fprintf(c.out, "[%d] %s: %s\n", m.ConversationID, name, m.Content)
			return
		}
	case types.EventDisplayTyping:
		fmt.Fprintln(c.out, "* someone is typing...")
		return
	case types.EventHideTyping:
		return
	case types.EventError:
		var e types.ErrorPayload
		if err := json.Unmarshal(env.Data, &e); err == nil {
			fmt.Fprintf(c.out, "* error (%s): %s\n", e.Event, e.Message)
			return
		}
	}
	fmt.Fprintf(c.out, "* %s %s\n", env.Event, env.Data)
}
