package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/7blacky7/ckptconv/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
