package main

import "github.com/strrl/replicant/internal/cmd"

func main() {
	cmd.Execute()
}
