package main

import "github.com/frahmantamala/ride-wallet/cmd"

func main() {
	cmd.Execute()
}
