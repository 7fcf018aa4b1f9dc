package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"linkbeam/peer"
	"linkbeam/pkg/logger"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	runDir         string
	runNoReceive   bool
	runInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Announce this device, track peers and accept incoming files",
	RunE: func(cmd *cobra.Command, args []string) error {
		view := newProgressView()
		node, err := newNode(view)
		if err != nil {
			return err
		}
		defer node.Close()

		if err := node.Start(); err != nil {
			return err
		}
		if !runNoReceive {
			if err := node.StartReceiving(runDir); err != nil {
				return err
			}
		}

		if runInteractive {
			fmt.Println("linkbeam interactive shell")
			fmt.Println("Type 'help' for commands.")

			shell := &shell{node: node, dir: runDir}
			prompt.New(
				shell.execute,
				shell.complete,
				prompt.OptionPrefix("linkbeam> "),
				prompt.OptionTitle("linkbeam"),
			).Run()
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logEvents(ctx, node)
		return nil
	},
}

// logEvents prints peer and transfer outcomes until ctx is done.
func logEvents(ctx context.Context, node *peer.Node) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-node.Events():
			switch ev.Type {
			case peer.EventPeerDiscovered:
				if ev.NewPeer {
					logger.Sugar.Infof("[Run] peer up: %s (%s) at %s", ev.Peer.DeviceName, ev.Peer.DeviceID, ev.Peer.Address)
				}
			case peer.EventPeerLost:
				logger.Sugar.Infof("[Run] peer lost: %s (%s)", ev.Peer.DeviceName, ev.Peer.DeviceID)
			case peer.EventTransferCompleted:
				logger.Sugar.Infof("[Run] %s %s completed (%d bytes)", ev.Transfer.Direction, ev.Transfer.FileName, ev.Transfer.Progress.TotalBytes)
			case peer.EventTransferFailed:
				logger.Sugar.Warnf("[Run] %s %s failed: %v", ev.Transfer.Direction, ev.Transfer.FileName, ev.Transfer.Err)
			}
		}
	}
}

type shell struct {
	node *peer.Node
	dir  string
}

func (s *shell) execute(in string) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping...")
		s.node.Close()
		os.Exit(0)
	case "status":
		s.status()
	case "peers":
		printPeers(s.node.Peers())
	case "send":
		if len(blocks) < 3 {
			fmt.Println("Usage: send <device_id|host:port> <file_path>")
			return
		}
		path := strings.Join(blocks[2:], " ")
		go func() {
			if err := s.node.SendFile(context.Background(), blocks[1], path); err != nil {
				fmt.Printf("Send failed: %v\n", err)
			}
		}()
	case "receive":
		dir := s.dir
		if len(blocks) > 1 {
			dir = blocks[1]
		}
		if err := s.node.StartReceiving(dir); err != nil {
			fmt.Printf("Error starting receiver: %v\n", err)
			return
		}
		fmt.Printf("Receiving on %s\n", s.node.ReceiveAddr())
	case "stop":
		s.node.StopReceiving()
		fmt.Println("Receiver stopped.")
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  peers                  - List live peers")
		fmt.Println("  send <peer> <path>     - Send a file to a device id or host:port")
		fmt.Println("  receive [dir]          - Start accepting files")
		fmt.Println("  stop                   - Stop accepting files")
		fmt.Println("  status                 - Show node status")
		fmt.Println("  exit                   - Stop and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func (s *shell) status() {
	m := s.node.Metrics()
	fmt.Printf("Discovery: %v\n", s.node.Discovering())
	if addr := s.node.ReceiveAddr(); addr != nil {
		fmt.Printf("Receiving: %s\n", addr)
	} else {
		fmt.Println("Receiving: off")
	}
	fmt.Printf("Peers: %d\n", len(s.node.Peers()))
	fmt.Printf("Sent: %d files (%d bytes) | Received: %d files (%d bytes) | Failed: %d | Uptime: %s\n",
		m.FilesSent, m.BytesSent, m.FilesReceived, m.BytesReceived, m.Failures, m.Uptime.Truncate(time.Second))
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	if strings.HasPrefix(d.TextBeforeCursor(), "send ") && len(strings.Fields(d.TextBeforeCursor())) <= 2 {
		var peers []prompt.Suggest
		for _, p := range s.node.Peers() {
			peers = append(peers, prompt.Suggest{Text: p.DeviceID, Description: p.DeviceName + " " + p.Address})
		}
		return prompt.FilterHasPrefix(peers, d.GetWordBeforeCursor(), true)
	}

	suggestions := []prompt.Suggest{
		{Text: "peers", Description: "List live peers"},
		{Text: "send", Description: "Send a file"},
		{Text: "receive", Description: "Start accepting files"},
		{Text: "stop", Description: "Stop accepting files"},
		{Text: "status", Description: "Show node status"},
		{Text: "exit", Description: "Exit"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runDir, "dir", "d", "", "Directory for received files (default from config)")
	runCmd.Flags().BoolVar(&runNoReceive, "no-receive", false, "Only discover peers, do not accept files")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Start in interactive mode")
}
