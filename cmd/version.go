// cmd/version.go
package cmd

// Version is the application version, set at build time with ldflags.
// Example: go build -ldflags "-X github.com/xanthous9/intentflow/cmd.Version=1.0.0"
var Version = "0.1.0"
