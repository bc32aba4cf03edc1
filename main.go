package main

import "github.com/marcus/tablehub/cmd"

// Version may be set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cmd.SetVersion(Version)
	cmd.Execute()
}
