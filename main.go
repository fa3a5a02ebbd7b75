// Command jppc crawls Japanese electricity tariffs.
package main

import "github.com/nalpari/jppc/cmd"

func main() {
	cmd.Execute()
}
