package main

import "github.com/dyike/cortexdesk/internal/cli"

func main() {
	cli.Run()
}
