package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/surronlog/internal/groutine"
	"github.com/srg/surronlog/internal/session"
	"golang.org/x/term"
)

const consolePrompt = "AT> "

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console <device-address>",
	Short: "Interactive AT console",
	Long: fmt.Sprintf(`Connects to a Surron device and opens an interactive AT command console.

Every line typed is sent as an AT command; device replies are printed as they
arrive. Lines starting with ':' are console shortcuts:

  :latest [N]   last N fault records (default 5)
  :status       fault log status
  :stats        fault statistics
  :count        number of stored records
  :clear        erase the fault log
  :state        show the connection state
  :help         show this list
  :quit         disconnect and exit (also :q, :exit, Ctrl+D)

When stdin is not a terminal, commands are read line by line and the console
exits after the input ends and --linger has passed.

Examples:
  surronlog console %s
  printf 'AT+LOGSTATUS\n:latest 10\n' | surronlog console %s --linger 2s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runConsole,
}

var (
	consoleFindTimeout time.Duration
	consoleLinger      time.Duration
	consoleTimestamps  bool
)

func init() {
	consoleCmd.Flags().DurationVar(&consoleFindTimeout, "find-timeout", 15*time.Second, "How long to scan for the device before giving up")
	consoleCmd.Flags().DurationVar(&consoleLinger, "linger", time.Second, "Time to keep receiving after piped input ends")
	consoleCmd.Flags().BoolVar(&consoleTimestamps, "timestamps", false, "Prefix output lines with the local time")
}

// lineSource yields console input one line at a time
type lineSource interface {
	ReadLine() (string, error)
}

type scannerSource struct {
	scanner *bufio.Scanner
}

func (s *scannerSource) ReadLine() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// openConsoleIO picks a raw-mode line editor when stdin is a terminal. The returned
// writer must be used for all output while the console is open.
func openConsoleIO(cmd *cobra.Command) (lineSource, io.Writer, func(), error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to enter raw mode: %w", err)
		}
		screen := struct {
			io.Reader
			io.Writer
		}{f, cmd.OutOrStdout()}
		t := term.NewTerminal(screen, consolePrompt)
		restore := func() { _ = term.Restore(int(f.Fd()), state) }
		return t, t, restore, nil
	}

	return &scannerSource{scanner: bufio.NewScanner(in)}, &lockedWriter{w: cmd.OutOrStdout()}, func() {}, nil
}

func runConsole(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	input, out, restore, err := openConsoleIO(cmd)
	if err != nil {
		return err
	}
	defer restore()

	printer := newPrinter(cmd, out, PrinterOptions{Session: true, Timestamp: consoleTimestamps})
	r, err := startSession(cfg, logger, out, printer)
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := r.connect(ctx, address, consoleFindTimeout); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "Type AT commands, :help for shortcuts, :quit to exit")

	lines := make(chan string)
	inputDone := make(chan error, 1)
	groutine.Go(ctx, "console-input", func(ctx context.Context) {
		for {
			line, err := input.ReadLine()
			if err != nil {
				inputDone <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.tracker.lost:
			return ErrConnectionLost
		case err := <-inputDone:
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read console input: %w", err)
			}
			return r.linger(ctx, consoleLinger)
		case line := <-lines:
			quit, err := r.handleConsoleLine(out, line)
			if err != nil {
				_, _ = fmt.Fprintf(out, "%v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handleConsoleLine runs one line of console input and reports whether to quit
func (r *runner) handleConsoleLine(out io.Writer, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	switch strings.ToLower(strings.Fields(line)[0]) {
	case ":quit", ":q", ":exit":
		return true, nil
	case ":help":
		_, _ = fmt.Fprintln(out, consoleHelp)
		return false, nil
	case ":state":
		_, _ = fmt.Fprintf(out, "state: %s\n", r.ctrl.State())
		return false, nil
	}

	command, err := expandCommand(line)
	if err != nil {
		return false, err
	}
	return false, r.ctrl.Send(command)
}

const consoleHelp = `:latest [N]  :status  :stats  :count  :clear  :state  :help  :quit`

// expandCommand maps console shortcuts to AT commands; other input is returned as typed
func expandCommand(line string) (string, error) {
	if !strings.HasPrefix(line, ":") {
		return line, nil
	}

	fields := strings.Fields(line)
	name := strings.ToLower(strings.TrimPrefix(fields[0], ":"))

	if name == "latest" {
		if len(fields) == 1 {
			return session.Presets["latest"], nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid record count %q: must be a positive number", fields[1])
		}
		return session.LatestCommand(n), nil
	}

	if command, ok := session.Presets[name]; ok {
		if len(fields) > 1 {
			return "", fmt.Errorf(":%s takes no arguments", name)
		}
		return command, nil
	}
	return "", fmt.Errorf("unknown console command %q (try :help)", fields[0])
}

// linger keeps the session open for d so replies to the last commands are printed,
// returning early if the link drops
func (r *runner) linger(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-r.tracker.lost:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}
