package main

import "github.com/djcass44/all-your-debs/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
