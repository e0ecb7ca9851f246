package main

import "github.com/fcp-performance/fcp-performance/cmd"

func main() {
	cmd.Execute()
}
