package main

import "github.com/shoko-reader/shoko/cmd"

func main() {
	cmd.Execute()
}
