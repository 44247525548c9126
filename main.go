package main

import "github.com/fzft/go-log-collector/cmd"

func main() {
	cmd.Execute()
}
