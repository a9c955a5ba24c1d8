package main

import "github.com/tenstorrent/tt-reset/cmd/ttreset/cmd"

func main() {
	cmd.Execute()
}
