package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/models"
	"github.com/wfunc/planningpoker/network"
	"github.com/wfunc/planningpoker/timer"
)

type clientOptions struct {
	Addr      string
	Room      string
	Name      string
	Deck      string
	Heartbeat time.Duration
	LogLevel  string
}

func newRootCommand() *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "poker-client",
		Short: "Terminal client for a planning poker server",
		Long: `Connects to a planning poker server over websocket, creates or joins a
room and reads commands from stdin.

Example:
  poker-client --name Alice
  poker-client --name Bob --room ABC12`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:8080", "server address")
	cmd.Flags().StringVar(&opts.Room, "room", "", "room to join; a new room is created when empty")
	cmd.Flags().StringVar(&opts.Name, "name", "", "your display name (required)")
	cmd.Flags().StringVar(&opts.Deck, "deck", "", "comma separated deck for a new room")
	cmd.Flags().DurationVar(&opts.Heartbeat, "heartbeat", 15*time.Second, "heartbeat interval")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// send formats and sends a message to the WebSocket server.
func send(c network.Connection, msgID uint16, payload interface{}) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	return c.Send(msgID, data)
}

func run(opts *clientOptions) error {
	logger.Init(opts.LogLevel)
	defer logger.Sync()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: opts.Addr, Path: "/ws"}
	logger.Log.Infof("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer c.Close()
	conn := network.NewWSConnection(c)

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				logger.Log.Infof("Read error: %v", err)
				return
			}
			p, err := network.Decode(message)
			if err != nil {
				logger.Log.Warnf("Received invalid packet of size %d", len(message))
				continue
			}
			fmt.Println(render(p))
		}
	}()

	if opts.Room == "" {
		var deck []string
		if opts.Deck != "" {
			deck = models.ParseDeck(opts.Deck)
		}
		err = send(conn, network.MsgTypeCreateRoom, network.CreateRoomRequest{Name: opts.Name, Deck: deck})
	} else {
		err = send(conn, network.MsgTypeJoinRoom, network.JoinRoomRequest{RoomID: opts.Room, Name: opts.Name})
	}
	if err != nil {
		return err
	}

	timers := timer.NewTimerManager(0)
	defer timers.Stop()
	timers.Every("heartbeat", opts.Heartbeat, func() {
		if err := send(conn, network.MsgTypeHeartbeat, nil); err != nil {
			logger.Log.Debugf("Heartbeat failed: %v", err)
		}
	})

	fmt.Println(help)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return nil
		case <-interrupt:
			return closeConn(c, done)
		case line, ok := <-lines:
			if !ok {
				return closeConn(c, done)
			}
			msgID, payload, err := parseCommand(line)
			if errors.Is(err, errQuit) {
				return closeConn(c, done)
			}
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := send(conn, msgID, payload); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func closeConn(c *websocket.Conn, done <-chan struct{}) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err != nil {
		return fmt.Errorf("write close: %w", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
