package main

import "github.com/oshokin/device-update-agent/cmd/update-agent/cmd"

func main() {
	cmd.Execute()
}
