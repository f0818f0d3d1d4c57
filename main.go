package main

import "github.com/speedrun-hq/speedrun-settler/pkg/cli"

func main() {
	cli.Execute()
}
