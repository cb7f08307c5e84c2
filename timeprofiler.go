package main

import (
	"fmt"
	"os"

	"github.com/timeprofiler/cmd"
)

func main() {
	err := cmd.NewApp().Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
