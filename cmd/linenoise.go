package cmd

import (
	"bytes"
	"github.com/peterh/liner"
	"os"
)

// lineNoise is the interactive prompt of the send command, with history kept in a file.
type lineNoise struct {
	*liner.State
	historyPath string
}

func newLineNoise(historyPath string) *lineNoise {
	ln := &lineNoise{State: liner.NewLiner(), historyPath: historyPath}
	ln.SetCtrlCAborts(true)
	if historyPath != "" {
		_ = ln.historyLoad()
	}
	return ln
}

func (ln *lineNoise) historyLoad() error {
	content, err := os.ReadFile(ln.historyPath)
	if err != nil {
		return err
	}
	_, err = ln.ReadHistory(bytes.NewReader(content))
	return err
}

func (ln *lineNoise) historySave() error {
	var buf bytes.Buffer
	if _, err := ln.WriteHistory(&buf); err != nil {
		return err
	}
	return os.WriteFile(ln.historyPath, buf.Bytes(), 0644)
}

// Close saves the history and restores the terminal.
func (ln *lineNoise) Close() error {
	if ln.historyPath != "" {
		_ = ln.historySave()
	}
	return ln.State.Close()
}
