package main

import (
	"os"

	"github.com/fcanata061/dbuild/internal/dbuild"
)

func main() {
	os.Exit(dbuild.Main())
}
