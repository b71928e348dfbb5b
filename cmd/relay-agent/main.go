package main

import "github.com/haxorport/haxorport-relay-agent/cmd"

func main() {
	cmd.Execute()
}
