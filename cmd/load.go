// cmd/load.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domcore/internal/config"
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/inspect"
	"github.com/xkilldash9x/domcore/internal/loader"
	"github.com/xkilldash9x/domcore/internal/observability"
	"github.com/xkilldash9x/domcore/internal/query"
)

// loadOptions holds the flags of the load command.
type loadOptions struct {
	format         string
	output         string
	url            string
	selector       string
	keepWhitespace bool
	handles        bool
	indent         int
}

func newLoadCmd() *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Parses an HTML or XML file into a document and prints it.",
		Long: `The load command parses a file into a fresh document and prints the result
as an indented tree, a JSON snapshot, serialized markup or XPath expressions.
With --select only the matching elements are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runLoad(cmd.Context(), cfg, observability.GetLogger(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "input format: html or xml (default: guessed from the file name)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "tree", "output: tree, json, markup or xpath")
	cmd.Flags().StringVar(&opts.url, "url", "", "document URL (default: the file URL)")
	cmd.Flags().StringVarP(&opts.selector, "select", "s", "", "print only elements matching this selector")
	cmd.Flags().BoolVar(&opts.keepWhitespace, "keep-whitespace", false, "keep whitespace-only text in XML documents")
	cmd.Flags().BoolVar(&opts.handles, "handles", false, "show node handles in tree output")
	cmd.Flags().IntVar(&opts.indent, "indent", 0, "indent XML markup output by this many spaces")
	return cmd
}

// runLoad contains the logic of the load command, decoupled from cobra.
func runLoad(ctx context.Context, cfg config.Interface, logger *zap.Logger, out io.Writer, path string, opts loadOptions) error {
	format := loader.Format(opts.format)
	if format == "" {
		format = loader.FormatFor(path)
	}
	if format != loader.FormatHTML && format != loader.FormatXML {
		return fmt.Errorf("unsupported format %q", opts.format)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	url := opts.url
	if url == "" {
		url = "file://" + path
	}

	// 1. Parse into a fresh tree.
	e := newEngine(cfg, logger)
	res, err := loader.Load(e.tree, f, format, loader.Options{URL: url, Logger: logger, KeepWhitespace: opts.keepWhitespace})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logger.Info("Document loaded",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("nodes", res.Nodes),
		zap.Int("skipped", res.Skipped),
	)
	if err := ctx.Err(); err != nil {
		return err
	}

	// 2. Pick the nodes to print.
	roots := []dom.Handle{res.Document}
	if opts.selector != "" {
		if roots, err = query.QuerySelectorAll(e.tree, res.Document, opts.selector); err != nil {
			return err
		}
		if len(roots) == 0 {
			logger.Warn("Selector matched nothing", zap.String("selector", opts.selector))
			return nil
		}
	}

	// 3. Render.
	for _, root := range roots {
		if err := writeNode(e.tree, out, root, opts); err != nil {
			return err
		}
	}
	return nil
}

func writeNode(t *dom.Tree, out io.Writer, root dom.Handle, opts loadOptions) error {
	switch opts.output {
	case "tree":
		s, err := inspect.Print(t, root, inspect.PrintOptions{Handles: opts.handles})
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, s)
		return err
	case "json":
		snap, err := inspect.Snap(t, root)
		if err != nil {
			return err
		}
		data, err := inspect.MarshalSnapshot(snap, true)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	case "markup":
		if err := inspect.Serialize(t, root, out, inspect.MarkupOptions{Indent: opts.indent}); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out)
		return err
	case "xpath":
		return t.View(func(v *dom.View) error {
			expr, err := inspect.XPath(v, root)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, expr)
			return err
		})
	}
	return fmt.Errorf("unsupported output %q", opts.output)
}
