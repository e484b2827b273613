package main

import "archcritic/cmd"

func main() {
	cmd.Execute()
}
