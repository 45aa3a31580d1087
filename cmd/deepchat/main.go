// Command deepchat runs and talks to the DeepChat search-augmented chat service.
package main

import (
	"fmt"
	"os"

	"github.com/harun/deepchat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
