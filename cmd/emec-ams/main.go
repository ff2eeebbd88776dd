package main

import "github.com/Tharunya07/EMEC-AMS/internal/cli"

func main() {
	cli.Execute()
}
