package main

import (
	"github.com/LENAX/sim-runner/pkg/cli/cmd"
)

func main() {
	cmd.Execute()
}
