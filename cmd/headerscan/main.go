package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raymyers/headerscan/pkg/cache"
	"github.com/raymyers/headerscan/pkg/cpp"
	"github.com/raymyers/headerscan/pkg/parser"
)

var version = "0.1.0"

// CLI flags
var (
	includePaths   []string
	defineFlags    []string
	undefineFlags  []string
	configPath     string
	cachePath      string
	basePath       string
	preprocessOnly bool // -E flag
	quiet          bool
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "headerscan [header...]",
		Short: "headerscan extracts declarations from C header files",
		Long: `headerscan parses C header files without a compiler: it evaluates
preprocessor directives, extracts macros, typedefs, enums, structs,
unions, function prototypes, and variables, and prints the resulting
catalog as YAML. #include directives are not processed; pass every
header on the command line.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			return scan(args, out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().StringArrayVarP(&includePaths, "include", "I", nil, "Add directory to header search path")
	rootCmd.Flags().StringArrayVarP(&defineFlags, "define", "D", nil, "Define macro (NAME or NAME=VALUE)")
	rootCmd.Flags().StringArrayVarP(&undefineFlags, "undefine", "U", nil, "Undefine macro")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Parser configuration file (YAML)")
	rootCmd.Flags().StringVar(&cachePath, "cache", "", "Parse cache file; reused when inputs and config match")
	rootCmd.Flags().StringVar(&basePath, "base", "", "Cache file of a previous parse whose definitions seed this one")
	rootCmd.Flags().BoolVarP(&preprocessOnly, "preprocess", "E", false, "Preprocess only, output to stdout")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress warnings")

	return rootCmd
}

// buildConfig assembles the parser configuration from defaults, the config
// file, and command-line flags.
func buildConfig() (parser.Config, error) {
	cfg := parser.Defaults()
	if configPath != "" {
		loaded, err := parser.LoadConfig(configPath)
		if err != nil {
			return parser.Config{}, err
		}
		cfg = loaded
	}
	cfg.HeaderSearchPaths = append(cfg.HeaderSearchPaths, includePaths...)
	return cfg, nil
}

func newParser() (*parser.Parser, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	p, err := parser.New(cfg)
	if err != nil {
		return nil, err
	}
	for _, d := range defineFlags {
		name, value := d, "1"
		for i := 0; i < len(d); i++ {
			if d[i] == '=' {
				name, value = d[:i], d[i+1:]
				break
			}
		}
		p.Define(name, value)
	}
	for _, u := range undefineFlags {
		p.Undefine(u)
	}
	return p, nil
}

func scan(headers []string, out, errOut io.Writer) error {
	p, err := newParser()
	if err != nil {
		fmt.Fprintf(errOut, "headerscan: %v\n", err)
		return err
	}

	if basePath != "" {
		base, err := cache.ReadStore(basePath)
		if err != nil {
			fmt.Fprintf(errOut, "headerscan: %v\n", err)
			return err
		}
		p.CopyFrom(base)
	}

	for _, h := range headers {
		if err := p.AddFile(h); err != nil {
			fmt.Fprintf(errOut, "headerscan: %v\n", err)
			return err
		}
	}

	if preprocessOnly {
		return doPreprocessOnly(headers, out, errOut)
	}

	// The cache fingerprint covers inputs and config, not a --base store,
	// so a seeded parse always runs in full.
	if cachePath != "" && basePath == "" {
		fromCache, err := p.ProcessCached(cachePath)
		if err != nil {
			fmt.Fprintf(errOut, "headerscan: %v\n", err)
			return err
		}
		if fromCache && !quiet {
			fmt.Fprintf(errOut, "headerscan: loaded definitions from cache %s\n", cachePath)
		}
	} else {
		if cachePath != "" && !quiet {
			fmt.Fprintf(errOut, "headerscan: --base given, ignoring --cache\n")
		}
		if err := p.Process(); err != nil {
			fmt.Fprintf(errOut, "headerscan: %v\n", err)
			return err
		}
	}

	reportDiagnostics(p.Diagnostics(), errOut)

	data, err := yaml.Marshal(p.Store().Dump())
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(data))
	return nil
}

// doPreprocessOnly runs just the preprocessor and prints the surviving text.
func doPreprocessOnly(headers []string, out, errOut io.Writer) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	pp := cpp.NewPreprocessor(cpp.Options{
		Defines:      defineFlags,
		Undefines:    undefineFlags,
		MaxExpansion: cfg.MaxExpansion,
	})
	for _, h := range headers {
		data, err := os.ReadFile(h)
		if err != nil {
			fmt.Fprintf(errOut, "headerscan: %v\n", err)
			return err
		}
		toks, _, err := pp.Preprocess(string(data), h)
		if err != nil {
			fmt.Fprintf(errOut, "headerscan: %v\n", err)
			return err
		}
		fmt.Fprint(out, cpp.TokensToString(toks))
	}
	reportDiagnostics(pp.Diagnostics(), errOut)
	return nil
}

func reportDiagnostics(diags []cpp.Diagnostic, errOut io.Writer) {
	if quiet {
		return
	}
	for _, d := range diags {
		fmt.Fprintf(errOut, "headerscan: %s\n", d)
	}
}
