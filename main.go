package main

import "clawbridge/cmd"

func main() {
	cmd.Execute()
}
