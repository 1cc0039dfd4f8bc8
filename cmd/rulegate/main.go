package main

import "github.com/rulegate/rulegate/cmd/rulegate/cmd"

func main() {
	cmd.Execute()
}
