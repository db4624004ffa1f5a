package main

import "github.com/hubwatch/ajax-bridge/cmd"

func main() {
	cmd.Execute()
}
