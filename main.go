package main

import "github.com/KaramelBytes/admisi-cli/cmd"

func main() {
	cmd.Execute()
}
