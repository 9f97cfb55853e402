// Package main is the entry of the cadence command line tool.
package main

import "github.com/sarchlab/cadence/cadence/cmd"

func main() {
	cmd.Execute()
}
