package main

import "github.com/multiqa/multiqa-gateway/cmd"

func main() {
	cmd.Execute()
}
