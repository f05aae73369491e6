package main

import "github.com/aiwaverider/mediasync/internal/cli"

func main() {
	cli.Execute()
}
