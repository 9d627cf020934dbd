package main

import (
	"os"

	"horse.fit/bazaar/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
