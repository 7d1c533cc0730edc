package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"neoaudit/internal/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("NeoAudit %s\n", version.GetVersion())
		fmt.Printf("API Version: %s\n", version.APIVersion)
		fmt.Printf("Build Time: %s\n", version.BuildTime)
		fmt.Printf("Git Commit: %s\n", version.GitCommit)
		fmt.Printf("Go Version: %s\n", version.GoVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
