package main

import "meetcal/internal/cmd"

func main() {
	cmd.Execute()
}
