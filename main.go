package main

import (
	"github.com/scenesync/scenesync/cmd"
)

func main() {
	cmd.Execute()
}
