package main

import "github.com/secana/k-releaser/cmd"

func main() {
	cmd.Execute()
}
