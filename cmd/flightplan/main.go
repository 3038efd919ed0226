package main

import "github.com/marcus/flightplan/cmd/flightplan/commands"

func main() {
	commands.Execute()
}
