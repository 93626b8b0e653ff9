package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/spaced/internal/bundle"
	"github.com/MarcoPoloResearchLab/spaced/internal/compiler"
	"github.com/MarcoPoloResearchLab/spaced/internal/logging"
	"github.com/MarcoPoloResearchLab/spaced/internal/vault"
)

func newCompileCommand() *cobra.Command {
	var outPath string
	var strict bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "compile [inputs...]",
		Short: "Compile markdown flashcards into a bundle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), args, outPath, strict, watch)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Output bundle path (default spaced-bundle-<timestamp>.zip)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	cmd.Flags().BoolVar(&watch, "watch", false, "Recompile whenever an input file changes")
	return cmd
}

func runCompile(ctx context.Context, args []string, outPath string, strict, watch bool) error {
	inputs, err := expandInputs(args)
	if err != nil {
		return err
	}

	if !watch {
		return compileOnce(inputs, outPath, strict)
	}

	logger, err := logging.NewLogger(viper.GetString("log.level"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := compileOnce(inputs, outPath, strict); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	watcher, err := vault.NewWatcher(vault.WatcherConfig{
		Files:  inputs,
		Logger: logger,
		OnChange: func() {
			if err := compileOnce(inputs, outPath, strict); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// expandInputs resolves glob patterns and filters the arguments down to
// absolute markdown paths. Non-markdown matches are skipped with a notice.
func expandInputs(args []string) ([]string, error) {
	var candidates []string
	for _, arg := range args {
		if strings.ContainsAny(arg, "*?[") {
			matches, err := filepath.Glob(arg)
			if err != nil {
				return nil, fmt.Errorf("bad glob pattern %q: %w", arg, err)
			}
			candidates = append(candidates, matches...)
			continue
		}
		candidates = append(candidates, arg)
	}

	seen := make(map[string]struct{})
	var inputs []string
	for _, candidate := range candidates {
		if !strings.EqualFold(filepath.Ext(candidate), ".md") {
			fmt.Fprintf(os.Stderr, "skipping non-markdown input: %s\n", candidate)
			continue
		}
		absolute, err := filepath.Abs(candidate)
		if err != nil {
			return nil, fmt.Errorf("resolve input %q: %w", candidate, err)
		}
		if _, duplicate := seen[absolute]; duplicate {
			continue
		}
		seen[absolute] = struct{}{}
		inputs = append(inputs, absolute)
	}

	if len(inputs) == 0 {
		return nil, errors.New("no markdown inputs")
	}
	return inputs, nil
}

func compileOnce(inputs []string, outPath string, strict bool) error {
	root := vault.FindRoot(inputs[0])
	for _, input := range inputs[1:] {
		if other := vault.FindRoot(input); other != root {
			return fmt.Errorf("inputs span multiple vaults: %s and %s", root, other)
		}
	}

	vaultCtx, err := vault.NewContext(root)
	if err != nil {
		return err
	}

	parser := compiler.NewParser(compiler.ParserConfig{})
	packager := bundle.NewPackager(vaultCtx)

	var (
		cards       []bundle.Card
		diagnostics []compiler.Diagnostic
		relInputs   []string
	)
	for _, input := range inputs {
		content, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("read input %s: %w", input, err)
		}
		relInput := vaultRelative(root, input)
		relInputs = append(relInputs, relInput)

		result := parser.ParseBlocks(string(content), relInput)
		diagnostics = append(diagnostics, result.Diagnostics...)
		for _, block := range result.Cards {
			card, rewriteDiagnostics := packager.RewriteCard(block, input)
			diagnostics = append(diagnostics, rewriteDiagnostics...)
			cards = append(cards, card)
		}
	}

	for _, diagnostic := range diagnostics {
		fmt.Fprintln(os.Stderr, diagnostic.String())
	}

	warnings := compiler.Warnings(diagnostics)
	summary := func(bundlePath string) {
		if bundlePath != "" {
			fmt.Printf("Bundle created: %s\n", bundlePath)
		}
		fmt.Printf("Files scanned: %d\n", len(inputs))
		fmt.Printf("Cards parsed: %d\n", len(cards))
		fmt.Printf("Assets packed: %d\n", packager.AssetCount())
		fmt.Printf("Warnings: %d\n", len(warnings))
	}

	if compiler.HasErrors(diagnostics) {
		summary("")
		return errors.New("compile failed")
	}
	if strict && len(warnings) > 0 {
		summary("")
		return fmt.Errorf("compile failed: %d warnings in strict mode", len(warnings))
	}

	now := time.Now().UTC()
	manifest := bundle.Manifest{
		Version:     bundle.Version,
		GeneratedAt: now,
		Source: bundle.Source{
			Type:      bundle.SourceTypeObsidian,
			VaultRoot: root,
			Inputs:    relInputs,
		},
		Cards:    cards,
		Warnings: manifestWarnings(warnings),
	}

	data, err := packager.WriteBundle(manifest, now)
	if err != nil {
		return err
	}

	bundlePath := outPath
	if bundlePath == "" {
		bundlePath = fmt.Sprintf("spaced-bundle-%s.zip", now.Format("20060102-150405"))
	}
	if err := os.WriteFile(bundlePath, data, 0o644); err != nil {
		return fmt.Errorf("write bundle %s: %w", bundlePath, err)
	}

	summary(bundlePath)
	return nil
}

func vaultRelative(root, absolute string) string {
	rel, err := filepath.Rel(root, absolute)
	if err != nil {
		return filepath.ToSlash(absolute)
	}
	return filepath.ToSlash(rel)
}

func manifestWarnings(warnings []compiler.Diagnostic) []bundle.Warning {
	converted := make([]bundle.Warning, 0, len(warnings))
	for _, warning := range warnings {
		converted = append(converted, bundle.Warning{
			Code:    string(warning.Code),
			Message: warning.Message,
			File:    warning.File,
			Line:    warning.Line,
		})
	}
	return converted
}
