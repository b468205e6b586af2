package main

import (
	"github.com/script-exporter/cmd/exporter"
)

func main() {
	exporter.Execute()
}
