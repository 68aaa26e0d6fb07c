// dagflow CLI — инструмент командной строки для определений,
// runs и исполнителей через HTTP API движка.
//
// Использование:
//
//	dagflow [--api-url URL] [--tenant ID] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	definition  Определения workflow
//	run         Управление runs
//	executor    Реестр исполнителей
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/shaiso/dagflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	rootCmd := cli.NewRootCmd(version, os.Stdout, os.Stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
