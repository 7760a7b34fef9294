package main

import "github.com/vietddude/offlinesync/internal/cli"

func main() {
	cli.Execute()
}
