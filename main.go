package main

import "github.com/sablekv/sable/cmd"

func main() {
	cmd.Execute()
}
