package main

import (
	"reclameaqui-pipeline/cmd/reclameaqui-cli/commands"
	"reclameaqui-pipeline/pkg/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()
	err := commands.ExecuteContext(ctx)
	cancel()
	if err != nil {
		serviceutil.Fatal("reclameaqui-cli failed", err)
	}
}
