package main

import "github.com/mgrandl/pacer/internal/cli"

func main() {
	cli.Execute()
}
