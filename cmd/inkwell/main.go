package main

import "github.com/jmcleod/inkwell/cmd/inkwell/cmd"

func main() {
	cmd.Execute()
}
