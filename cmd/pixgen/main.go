package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"

	"pixproxy/internal/domain"
)

func main() {
	c := newCLI(os.Stdout, os.Stderr)
	if err := newRootCmd(c).Execute(); err != nil {
		red := color.New(color.FgRed, color.Bold)
		var derr *domain.Error
		if errors.As(err, &derr) {
			red.Fprintf(os.Stderr, "error (%s, %d): ", derr.Kind, derr.Status())
			fmt.Fprintln(os.Stderr, derr.Message)
		} else {
			red.Fprint(os.Stderr, "error: ")
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
