package main

import "github.com/KaramelBytes/abverdict/cmd"

func main() {
	cmd.Execute()
}
