package main

import "github.com/MeKo-Tech/docstream/cmd/docstream/cmd"

func main() {
	cmd.Execute()
}
