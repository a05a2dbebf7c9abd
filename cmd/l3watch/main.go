package main

import "l3-health-alerts/internal/cli"

func main() {
	cli.Execute()
}
