package main

import "github.com/ridoystarlord/pbmigrato/cmd"

func main() {
	cmd.Execute()
}
