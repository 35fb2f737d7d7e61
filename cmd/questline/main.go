package main

import "github.com/aybkose/questline/cmd/questline/commands"

func main() {
	commands.Execute()
}
