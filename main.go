package main

import "github.com/demorec/demorec/cmd"

func main() {
	cmd.Execute()
}
