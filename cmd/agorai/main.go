package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "agorai",
		Short:   "agorai: ask several language models at once, with caching and daily quotas",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newQuotaCmd(),
		newCacheCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
