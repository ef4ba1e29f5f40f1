package main

import "mtlcap/internal/cli"

func main() {
	cli.Execute()
}
