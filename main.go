package main

import "github.com/emberlab/hearth/cmd"

func main() {
	cmd.Execute()
}
