package main

import (
	"os"

	"github.com/yoanbernabeu/hostdeploy/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
