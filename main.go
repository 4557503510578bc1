package main

import "github.com/Seann-Moser/servobit/cmd"

func main() {
	cmd.Execute()
}
