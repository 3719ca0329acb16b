package main

import (
	"dbaccel/cmd"
)

// Version is set by build flags.
var Version = "dev"

func main() {
	cmd.SetVersionInfo(Version)
	cmd.Execute()
}
