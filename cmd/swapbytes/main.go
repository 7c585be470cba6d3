package main

import "github.com/rudransh-shrivastava/swapbytes/internal/cmd"

func main() {
	cmd.Execute()
}
