// Command otpatch-cli is a small inspector binary for the patch
// algebra: apply/invert/compose/transform a patch against a document
// read from disk and print the result. It exists to exercise the
// module's urfave/cli and go-pretty/table dependencies with runnable
// code; it is a dev inspector, not a production service (spec.md's
// Non-goals exclude the latter, not this). Grounded on
// other_examples/a06b53b1_gloudx-ues-lite's transform-patch command:
// the same --patch/--output flags and table-vs-json output switch.
// Every subcommand only prints its result and writes nothing back, so
// there is no --dry-run flag.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/agentflare-ai/go-otpatch/optype"
	"github.com/agentflare-ai/go-otpatch/otpatch"
)

func main() {
	app := &cli.App{
		Name:  "otpatch-cli",
		Usage: "inspect the OT/JSON-Patch algebra: apply, invert, compose, transform",
		Commands: []*cli.Command{
			applyCommand(),
			invertCommand(),
			composeCommand(),
			transformCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func commonFlags(patchFlags ...string) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "document", Aliases: []string{"d"}, Usage: "path to a JSON document file ('-' for stdin)"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "json", Usage: "output format: json or table"},
		&cli.BoolFlag{Name: "strict", Value: true, Usage: "abort on the first failing op instead of skipping it"},
	}
	for _, name := range patchFlags {
		flags = append(flags, &cli.StringFlag{Name: name, Usage: "path to a JSON patch file (verbose or compact form)"})
	}
	return flags
}

func applyCommand() *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "apply a patch to a document and print the result",
		Flags: commonFlags("patch"),
		Action: func(ctx *cli.Context) error {
			doc, err := readJSON(ctx.String("document"))
			if err != nil {
				return err
			}
			ops, err := readOps(ctx.String("patch"))
			if err != nil {
				return err
			}
			registry := optype.NewRegistry(nil)
			result, err := otpatch.ApplyPatch(doc, ops, ctx.Bool("strict"), registry)
			if err != nil {
				return fmt.Errorf("apply: %w", err)
			}
			return printDocument(result, ctx.String("output"))
		},
	}
}

func invertCommand() *cli.Command {
	return &cli.Command{
		Name:  "invert",
		Usage: "compute the inverse of a patch against a document",
		Flags: commonFlags("patch"),
		Action: func(ctx *cli.Context) error {
			doc, err := readJSON(ctx.String("document"))
			if err != nil {
				return err
			}
			ops, err := readOps(ctx.String("patch"))
			if err != nil {
				return err
			}
			registry := optype.NewRegistry(nil)
			inverse, err := otpatch.InvertPatch(doc, ops, registry)
			if err != nil {
				return fmt.Errorf("invert: %w", err)
			}
			return printOps(inverse, ctx.String("output"))
		},
	}
}

func composeCommand() *cli.Command {
	return &cli.Command{
		Name:  "compose",
		Usage: "collapse adjacent same-path, same-opcode ops in a patch",
		Flags: commonFlags("patch"),
		Action: func(ctx *cli.Context) error {
			ops, err := readOps(ctx.String("patch"))
			if err != nil {
				return err
			}
			registry := optype.NewRegistry(nil)
			composed, err := otpatch.ComposePatch(ops, registry)
			if err != nil {
				return fmt.Errorf("compose: %w", err)
			}
			return printOps(composed, ctx.String("output"))
		},
	}
}

func transformCommand() *cli.Command {
	cmd := &cli.Command{
		Name:  "transform",
		Usage: "rebase one patch (--other-patch) against another (--patch) having already applied",
		Flags: commonFlags("patch"),
	}
	cmd.Flags = append(cmd.Flags, &cli.StringFlag{Name: "other-patch", Usage: "path to the patch being rebased"})
	cmd.Action = func(ctx *cli.Context) error {
		thisOps, err := readOps(ctx.String("patch"))
		if err != nil {
			return err
		}
		otherOps, err := readOps(ctx.String("other-patch"))
		if err != nil {
			return err
		}
		registry := optype.NewRegistry(nil)
		rebased := otpatch.TransformPatch(nil, thisOps, otherOps, registry)
		return printOps(rebased, ctx.String("output"))
	}
	return cmd
}

func readJSON(path string) (any, error) {
	raw, err := readFileOrStdin(path)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no file path given")
	}
	if path == "-" {
		return readAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func readAll(f *os.File) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// readOps accepts either the verbose Op array shape or the compact
// tuple-array wire form, detecting which by trying verbose first.
func readOps(path string) ([]optype.Op, error) {
	raw, err := readFileOrStdin(path)
	if err != nil {
		return nil, err
	}

	var verbose []optype.Op
	if err := json.Unmarshal(raw, &verbose); err == nil {
		return verbose, nil
	}

	var compact []optype.CompactOp
	if err := json.Unmarshal(raw, &compact); err != nil {
		return nil, fmt.Errorf("parsing %s as a patch (tried verbose and compact form): %w", path, err)
	}
	ops := make([]optype.Op, len(compact))
	for i, c := range compact {
		op, err := optype.UnmarshalCompact(c)
		if err != nil {
			return nil, fmt.Errorf("decoding compact op %d in %s: %w", i, path, err)
		}
		ops[i] = op
	}
	return ops, nil
}

func printDocument(doc any, format string) error {
	if format == "table" {
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"result"})
		t.AppendRow(table.Row{string(raw)})
		t.Render()
		return nil
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printOps(ops []optype.Op, format string) error {
	if format == "table" {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"op", "path", "from", "value"})
		for _, op := range ops {
			valueStr := ""
			if op.Value != nil {
				raw, _ := json.Marshal(op.Value)
				valueStr = string(raw)
			}
			t.AppendRow(table.Row{string(op.Op), op.Path, op.From, valueStr})
		}
		t.Render()
		return nil
	}
	out, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
