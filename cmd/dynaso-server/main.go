package main

import "github.com/oshokin/dynaso/cmd/dynaso-server/cmd"

func main() {
	cmd.Execute()
}
