package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pthm/shelfdb/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())

		drivers := version.Drivers()
		paths := make([]string, 0, len(drivers))
		for p := range drivers {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Printf("  %s %s\n", p, drivers[p])
		}
	},
}
