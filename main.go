// File: main.go
package main

import "github.com/averell-dev/deskrover/cmd"

func main() {
	cmd.Execute()
}
