package main

import (
	"os"

	"github.com/JHSEO0807/upbit-autotrade-bot-study/cmd/upbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
