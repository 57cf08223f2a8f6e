package main

import "github.com/quantbench/marketfeed-service/cmd"

func main() {
	cmd.Execute()
}
