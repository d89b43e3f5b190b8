package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"multizone/internal/ipc"
	"multizone/internal/zone"
)

const usage = `usage: multizone-ctl [flags] <command> [arg]

commands:
  status              show the current state
  connect [port]      connect the board (auto-detect without a port)
  disconnect          disconnect the board
  zone <index|name>   toggle the active zone
  processing          toggle talker monitoring
`

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 6*time.Minute, "How long to wait for the daemon")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	msg, err := parseArgs(cli.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		cli.Usage()
		os.Exit(2)
	}

	rep, err := ipc.SendCommand(*socket, msg, *timeout)
	if err != nil {
		fmt.Println("multizone-daemon not running:", err)
		os.Exit(1)
	}

	if rep.Status != nil {
		printStatus(*rep.Status)
	}
	if !rep.OK {
		fmt.Println("error:", rep.Error)
		os.Exit(1)
	}
}

func parseArgs(args []string) (ipc.ControlMessage, error) {
	if len(args) == 0 {
		return ipc.ControlMessage{}, fmt.Errorf("missing command")
	}

	msg := ipc.ControlMessage{Cmd: args[0]}
	rest := strings.Join(args[1:], " ")

	switch msg.Cmd {
	case ipc.CmdStatus, ipc.CmdDisconnect, ipc.CmdProcessing:
	case ipc.CmdConnect:
		msg.Port = rest
	case ipc.CmdZone:
		if rest == "" {
			return msg, fmt.Errorf("zone needs an index or a name")
		}
		msg.Zone = rest
	default:
		return msg, fmt.Errorf("unknown command %q", msg.Cmd)
	}

	return msg, nil
}

func printStatus(s zone.Snapshot) {
	conn := s.Connection
	if s.Port != "" {
		conn += " (" + s.Port + ")"
	}
	fmt.Println("board:      ", conn)
	if s.LastError != "" {
		fmt.Println("last error: ", s.LastError)
	}
	fmt.Println("processing: ", onOff(s.Processing))

	for _, z := range zone.All() {
		line := fmt.Sprintf("  %-10s", z)
		if s.ActiveIndex != nil && *s.ActiveIndex == int(z) {
			line += " [active]"
		}
		if len(s.Talkers) > int(z) && s.Talkers[z] {
			line += " talking"
		}
		fmt.Println(line)
	}

	if len(s.Messages) > 0 {
		fmt.Println(strings.Join(s.Messages, " | "))
	}
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
