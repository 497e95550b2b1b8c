package main

import "github.com/shizukutanaka/tsurugi/cmd/tsurugi/commands"

func main() {
	commands.Execute()
}
