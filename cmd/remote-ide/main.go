package main

import "github.com/tbulle/remote-ai-ide/internal/cli"

func main() {
	cli.Execute()
}
