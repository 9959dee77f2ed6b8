package main

import (
	"market-watchdog/internal/cli"
)

func main() {
	cli.Execute()
}
