package main

import "github.com/jmcleod/deskd/cmd/deskd/cmd"

func main() {
	cmd.Execute()
}
