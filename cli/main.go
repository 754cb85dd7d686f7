package main

import "spriteconsole/cli/cmd"

func main() {
	cmd.Execute()
}
