package main

import "rolechat/internal/cli"

func main() {
	cli.Execute()
}
