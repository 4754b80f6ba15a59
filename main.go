package main

import "beohub/cmd"

func main() {
	cmd.Execute()
}
