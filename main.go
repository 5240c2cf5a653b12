package main

import "github.com/lockwhz/scan-triage-service/commands"

func main() {
	commands.Execute()
}
