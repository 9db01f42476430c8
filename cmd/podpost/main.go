// Command podpost はPodプロバイダー連携の投稿サービスを起動する。
//
//	podpost [serve|worker|migrate [up|down N|version]|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/podpost/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "podpost: %v\n", err)
		os.Exit(1)
	}
}
