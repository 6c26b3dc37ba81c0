// Command btsinkd is a headless Bluetooth Classic A2DP/AVRCP audio sink
// daemon: it claims a USB Bluetooth controller, drives the HCI/L2CAP/AVDTP/
// AVRCP stack, and accepts every inbound connection request.
package main

import (
	"fmt"
	"os"

	"github.com/btsinkd/btsinkd/cmd/btsinkd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
