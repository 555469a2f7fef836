package main

import "github.com/NamanBalaji/fetcharr/cmd"

func main() {
	cmd.Execute()
}
