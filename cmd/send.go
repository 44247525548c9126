package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const defaultHistoryFile = ".collector_history"

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Send messages to a running collector",
	Long: `Send each argument as one message. Without arguments, lines are read from
stdin: interactively with history when stdin is a terminal, otherwise until EOF.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: runSend,
}

func init() {
	key := "host"
	sendCmd.Flags().String(key, "127.0.0.1", wrapString("Collector hostname"))

	key = "port"
	sendCmd.Flags().Int(key, defaultPort, wrapString("Collector port"))

	key = "delimiter"
	sendCmd.Flags().String(key, `\n`, wrapString("Delimiter appended to every message, Go escapes allowed"))

	key = "timeout"
	sendCmd.Flags().Int(key, 5, wrapString("Connect timeout in seconds"))

	key = "history"
	sendCmd.Flags().String(key, defaultHistoryPath(), wrapString("History file of the interactive prompt. Empty disables history"))
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultHistoryFile)
}

func runSend(cmd *cobra.Command, args []string) error {
	delimiter, err := parseDelimiter(viper.GetString("delimiter"))
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(viper.GetString("host"), strconv.Itoa(viper.GetInt("port")))
	conn, err := net.DialTimeout("tcp", addr, time.Duration(viper.GetInt("timeout"))*time.Second)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	w := &messageWriter{w: conn, delimiter: delimiter}

	if len(args) > 0 {
		for _, arg := range args {
			if err := w.send(arg); err != nil {
				return err
			}
		}
		return nil
	}

	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return sendInteractive(w, addr, viper.GetString("history"))
	}
	return w.sendLines(cmd.InOrStdin())
}

// messageWriter writes messages followed by the delimiter.
type messageWriter struct {
	w         io.Writer
	delimiter []byte
	sent      int
}

func (m *messageWriter) send(msg string) error {
	buf := make([]byte, 0, len(msg)+len(m.delimiter))
	buf = append(buf, msg...)
	buf = append(buf, m.delimiter...)
	if _, err := m.w.Write(buf); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	m.sent++
	return nil
}

// sendLines sends every line of r as one message.
func (m *messageWriter) sendLines(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := m.send(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func sendInteractive(w *messageWriter, addr, history string) error {
	ln := newLineNoise(history)
	defer ln.Close()

	prompt := addr + "> "
	for {
		line, err := ln.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		ln.AppendHistory(line)
		if err := w.send(line); err != nil {
			return err
		}
	}
}
