package main

import "github.com/bryanchriswhite/motioncomm/cmd/motioncomm/commands"

func main() {
	commands.Execute()
}
