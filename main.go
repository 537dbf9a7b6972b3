package main

import "github.com/frahmantamala/stay-payments/cmd"

func main() {
	cmd.Execute()
}
