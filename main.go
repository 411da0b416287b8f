package main

import "github.com/droidcrawl/droidcrawl/cmd"

func main() {
	cmd.Execute()
}
