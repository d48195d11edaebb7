package main

import "github.com/polarsignals/lakescan/cmd/lakescan-tool/cmd"

func main() {
	cmd.Execute()
}
