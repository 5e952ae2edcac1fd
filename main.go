package main

import "github.com/martinemde/gemcode/cmd"

func main() {
	cmd.Execute()
}
