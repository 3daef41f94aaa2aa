package main

import "github.com/oshokin/dynaso/cmd/dynaso-packager/cmd"

func main() {
	cmd.Execute()
}
