package cmd

import (
	"fmt"
)

const banner = `
  _       _                   _ _
 (_)_ __ | | ____      _____| | |
 | | '_ \| |/ /\ \ /\ / / _ \ | |
 | | | | |   <  \ V  V /  __/ | |
 |_|_| |_|_|\_\  \_/\_/ \___|_|_|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Blog Platform - Version %s\x1b[0m\n\n", Version)
}
