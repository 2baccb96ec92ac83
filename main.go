package main

import "github.com/romfetch/romfetch/cmd"

func main() {
	cmd.Execute()
}
