package main

import "healthrisk/cmd"

func main() {
	cmd.Execute()
}
