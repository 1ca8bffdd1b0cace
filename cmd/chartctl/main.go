package main

import (
	"os"

	chartctlcmd "github.com/telekom/k8s-chartdeploy/pkg/chartctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := chartctlcmd.NewRootCommand(chartctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
