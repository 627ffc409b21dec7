// Package main is the sitegraph entrypoint. See package cmd for the commands.
package main

import "github.com/JakeFAU/sitegraph/cmd"

func main() {
	cmd.Execute()
}
