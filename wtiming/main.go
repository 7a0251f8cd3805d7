// Package main is the wtiming command.
package main

import "github.com/sarchlab/workertiming/wtiming/cmd"

func main() {
	cmd.Execute()
}
