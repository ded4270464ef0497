package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <device-address> <command>...",
	Short: "Send AT commands and print the replies",
	Long: fmt.Sprintf(`Connects to a Surron device, sends each command in order and prints
everything the device returns until --wait has passed after the last command.

Console shortcuts (:latest N, :status, :stats, :count, :clear) are accepted.

Examples:
  # Read the fault log status
  surronlog send %s AT+LOGSTATUS

  # Last 10 records, waiting longer for a slow reply
  surronlog send %s ":latest 10" --wait 5s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var (
	sendWait        time.Duration
	sendFindTimeout time.Duration
	sendSession     bool
)

func init() {
	sendCmd.Flags().DurationVarP(&sendWait, "wait", "w", 2*time.Second, "How long to keep receiving after the last command")
	sendCmd.Flags().DurationVar(&sendFindTimeout, "find-timeout", 15*time.Second, "How long to scan for the device before giving up")
	sendCmd.Flags().BoolVar(&sendSession, "session", false, "Also print session messages (connect, notifications, disconnect)")
}

func runSend(cmd *cobra.Command, args []string) error {
	address := args[0]

	commands := make([]string, 0, len(args)-1)
	for _, arg := range args[1:] {
		command, err := expandCommand(arg)
		if err != nil {
			return err
		}
		commands = append(commands, command)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	printer := newPrinter(cmd, out, PrinterOptions{Session: sendSession})

	r, err := startSession(cfg, logger, out, printer)
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := r.connect(ctx, address, sendFindTimeout); err != nil {
		return err
	}

	for _, command := range commands {
		if err := r.ctrl.Send(command); err != nil {
			return err
		}
	}

	if err := r.linger(ctx, sendWait); err != nil {
		return err
	}

	if msg := r.tracker.LastError(); msg != "" {
		return errors.New(msg)
	}
	return nil
}
