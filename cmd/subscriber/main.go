package main

import (
	"github.com/architeacher/svc-queue-consumer/internal/runtime"
)

func main() {
	runtime.NewSubscriber().Run()
}
