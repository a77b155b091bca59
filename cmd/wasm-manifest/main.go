// Generates the C header that embeds WASM container images into a firmware
// build.
//
//	wasm-manifest hello-world blinky --template wasm_manifest.h.in --output build/wasm_manifest.h
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/luhtfiimanal/ocre-hwtest/manifest"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var (
		templatePath string
		outputPath   string
		validateDir  string
		omitSizes    bool
	)

	cmd := &cobra.Command{
		Use:           "wasm-manifest NAME...",
		Short:         "Generate WASM manifest header from template",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, names []string) error {
			template, err := manifest.ReadTemplate(templatePath)
			if err != nil {
				return err
			}
			if validateDir != "" {
				if err := manifest.Validate(context.Background(), validateDir, names); err != nil {
					return fmt.Errorf("invalid wasm image: %w", err)
				}
			}
			content, err := manifest.Generate(names, template, manifest.Options{OmitSizes: omitSizes})
			if err != nil {
				return err
			}
			if err := manifest.WriteFile(outputPath, content); err != nil {
				return err
			}

			fmt.Fprintf(stdout, "Generated manifest for %d WASM binaries: %s\n", len(names), strings.Join(names, ", "))
			fmt.Fprintf(stdout, "Template: %s\n", templatePath)
			fmt.Fprintf(stdout, "Output: %s\n", outputPath)
			return nil
		},
	}
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVarP(&templatePath, "template", "t", "", "input template file")
	flags.StringVarP(&outputPath, "output", "o", "", "output header file")
	flags.StringVar(&validateDir, "validate", "", "compile DIR/<name>.wasm for every name before generating")
	flags.BoolVar(&omitSizes, "omit-sizes", false, "leave the size lookup block empty")
	cmd.MarkFlagRequired("template")
	cmd.MarkFlagRequired("output")

	if err := cmd.Execute(); err != nil {
		if errors.Is(err, manifest.ErrTemplateNotFound) {
			fmt.Fprintf(stderr, "Error: Template file not found: %s\n", templatePath)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}
