package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	app := newApp(os.Stdout)
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "botstore:", err)
		os.Exit(1)
	}
}
