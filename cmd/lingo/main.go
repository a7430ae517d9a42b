package main

import "github.com/vietddude/lingo/internal/cli"

func main() {
	cli.Execute()
}
