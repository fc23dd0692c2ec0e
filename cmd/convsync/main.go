package main

import "convsync/cmd/convsync/cmd"

func main() {
	cmd.Execute()
}
