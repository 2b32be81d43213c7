// Command dqctl runs pipelines and manages the engine from the shell.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:]))
}
