// Package banner prints the startup ASCII banner.
package banner

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
)

const (
	colorReset = "\x1b[0m"
	colorBlue  = "\x1b[1;34m"
)

// Print renders the project name as a blue ASCII banner on stdout.
func Print(text string) {
	fig := figure.NewFigure(text, "", true)
	for _, line := range fig.Slicify() {
		fmt.Printf("%s%s%s\n", colorBlue, line, colorReset)
	}
}
