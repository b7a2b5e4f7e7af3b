// Command malnet runs the malicious-node scenario and reports its packet
// delivery ratio.
package main

import "github.com/sarchlab/malnet/cmd/malnet/cmd"

func main() {
	cmd.Execute()
}
