// The main package for the linkstools executable.
package main

import "github.com/ikun245/telegram-linkstools/cmd"

func main() {
	cmd.Execute()
}
