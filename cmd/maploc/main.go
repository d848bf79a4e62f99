// Package main is the maploc command itself.
package main

import (
	"log"
	"os"

	"github.com/maploc/maploc/cli"
)

func main() {
	if err := cli.NewApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
