// Command apiquota runs the outbound API quota service.
//
// Usage:
//
//	apiquota serve --config configs/apiquota.yaml
//	apiquota print-config --config configs/apiquota.yaml
//	apiquota check keepa --identifier seller-42
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, nil))
}

// run parses args and executes the selected command. A nil environ reads the
// process environment after the dotenv file is applied.
func run(args []string, stdout, stderr io.Writer, environ []string) int {
	var cli CLI
	exitCode := -1
	parser, err := kong.New(&cli,
		kong.Name("apiquota"),
		kong.Description("Admission control for outbound third-party API calls."),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
		kong.Exit(func(code int) { exitCode = code }),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	env := &cliEnv{stdout: stdout, stderr: stderr, environ: environ}
	if err := kctx.Run(&cli, env); err != nil {
		fmt.Fprintf(stderr, "apiquota: %v\n", err)
		return 1
	}
	return 0
}
