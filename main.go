package main

import "swap-triggers/internal/cli"

func main() {
	cli.Execute()
}
