package main

import "github.com/ptrvsrg/crack-hash/internal/cli"

// version задаётся при сборке через -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
