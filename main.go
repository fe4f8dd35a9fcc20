// main.go
package main

import (
	"github.com/xanthous9/intentflow/cmd"
)

func main() {
	cmd.Execute()
}
