package main

import (
	"log"

	"github.com/psds-microservice/chat-router/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
