package main

import "github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/cmd"

func main() {
	cmd.Execute()
}
