// Package main is the entry point for the coevo CLI.
package main

import "coevo.dev/pkg/coevo/cmd"

func main() {
	cmd.Execute()
}
