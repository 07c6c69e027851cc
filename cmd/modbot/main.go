// Command modbot runs the reddit moderator bot.
package main

import (
	"fmt"
	"os"

	"github.com/gbionescu/reddit-moderator-bot/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
