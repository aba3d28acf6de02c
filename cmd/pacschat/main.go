package main

import (
	"fmt"
	"os"

	"pacschat/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "pacschat:", err)
		os.Exit(1)
	}
}
