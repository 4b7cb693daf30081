package main

import (
	"go-jvman/cmd/jvman/cmd"
)

func main() {
	cmd.Execute()
}
