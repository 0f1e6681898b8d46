// dnp3ctl is a CLI client for the dnp3master daemon's control API.
package main

import "github.com/dantte-lp/dnp3master/cmd/dnp3ctl/commands"

func main() {
	commands.Execute()
}
