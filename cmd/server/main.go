package main

import "github.com/meridian-geo/meridian/cmd/server/cmd"

func main() {
	cmd.Execute()
}
