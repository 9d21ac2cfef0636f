package main

import "github.com/not-nullexception/ziply/internal/cli"

func main() {
	cli.Execute()
}
