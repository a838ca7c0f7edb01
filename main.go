// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/sitepkg/sitepkg/cmd/sitepkg"

func main() {
	cmd.Execute()
}
