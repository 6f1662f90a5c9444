package main

import "github.com/variantdev/ship/cmd"

func main() {
	cmd.Execute()
}
