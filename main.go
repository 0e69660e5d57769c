package main

import "github.com/fakeyudi/gitclock/cmd"

func main() {
	cmd.Execute()
}
