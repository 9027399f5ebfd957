// The main package for the propsrc executable.
package main

import "github.com/JakeFAU/propsrc/cmd"

func main() {
	cmd.Execute()
}
