package main

import "github.com/ppiankov/autoaccept/internal/cli"

func main() {
	cli.Execute()
}
