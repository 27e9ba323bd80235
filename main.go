/*
	Copyright 2023 Markus Papenbrock
*/

package main

import "github.com/mpapenbr/livetiming-gateway-go/cmd"

func main() {
	cmd.Execute()
}
