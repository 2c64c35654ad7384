package main

import "github.com/lucid-sec/lucid/go/internal/cli"

func main() {
	cli.Execute()
}
