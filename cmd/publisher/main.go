package main

import (
	"github.com/architeacher/svc-queue-consumer/internal/runtime"
)

// Reads newline-delimited JSON from stdin and publishes every line.
func main() {
	runtime.NewPublisher().Run()
}
