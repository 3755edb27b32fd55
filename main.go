package main

import "github.com/jkristofgh/TradeAssist-sub001/internal/cli"

func main() {
	cli.Execute()
}
