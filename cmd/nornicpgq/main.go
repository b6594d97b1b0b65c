// Package main provides the NornicPGQ CLI entry point.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/orneryd/nornicpgq/pkg/algo"
	"github.com/orneryd/nornicpgq/pkg/catalog"
	"github.com/orneryd/nornicpgq/pkg/config"
	"github.com/orneryd/nornicpgq/pkg/nornicpgq"
	"github.com/orneryd/nornicpgq/pkg/pattern"
	"github.com/orneryd/nornicpgq/pkg/storage"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

// importBatchSize is the number of CSV rows sent to the engine per Insert.
const importBatchSize = 1000

// shutdownTracing flushes the stdout span exporter when --trace is set.
var shutdownTracing = func(context.Context) error { return nil }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nornicpgq",
		Short: "NornicPGQ - property graph queries over relational tables",
		Long: `NornicPGQ defines property graphs over relational tables and answers
GRAPH_TABLE pattern queries and graph algorithms against them.

Features:
  • Property graph definitions over host tables (YAML)
  • GRAPH_TABLE pattern matching with quantified edges
  • Cached CSR projections, invalidated on table changes
  • PageRank, weakly connected components, reachability, shortest path`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if trace, _ := cmd.Flags().GetBool("trace"); trace {
				return setupTracing(cmd.ErrOrStderr())
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return shutdownTracing(context.Background())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("data-dir", "", "Data directory (overrides config)")
	pf.String("config", "", "Config file (default: search NORNICPGQ_CONFIG, ~/.nornicpgq, ./config.yaml)")
	pf.Bool("in-memory", false, "Use in-memory storage; nothing is persisted")
	pf.Bool("trace", false, "Print OpenTelemetry spans to stderr")
	pf.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "NornicPGQ v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	rootCmd.AddCommand(newTableCmd(), newGraphCmd(), newMatchCmd(), newExplainCmd(),
		newPageRankCmd(), newWCCCmd(), newReachCmd())
	return rootCmd
}

func setupTracing(w io.Writer) error {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("create span exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	shutdownTracing = tp.Shutdown
	return nil
}

// loadConfig resolves the configuration file, then applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	var cfg *config.Config
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("in-memory") {
		cfg.Storage.InMemory, _ = flags.GetBool("in-memory")
	}
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		cfg.Logging.Level = strings.ToLower(level)
	}
	cfg.Logging.Output = cmd.ErrOrStderr()
	return cfg, nil
}

// withDB opens the database, runs fn, and closes it. Interrupts cancel the context.
func withDB(cmd *cobra.Command, fn func(ctx context.Context, db *nornicpgq.DB) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := nornicpgq.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx, db)
	if err := db.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newTableCmd() *cobra.Command {
	tableCmd := &cobra.Command{
		Use:   "table",
		Short: "Manage host tables",
	}

	tableCmd.AddCommand(&cobra.Command{
		Use:   "create NAME COLUMN:TYPE...",
		Short: "Create a table",
		Long:  "Create a table. Types: varchar, bigint, double, boolean.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := storage.Table{Name: args[0]}
			for _, spec := range args[1:] {
				col, err := parseColumnSpec(spec)
				if err != nil {
					return err
				}
				t.Columns = append(t.Columns, col)
			}
			return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
				if err := db.Tables().CreateTable(t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created table %s (%d columns)\n", t.Name, len(t.Columns))
				return nil
			})
		},
	})

	importCmd := &cobra.Command{
		Use:   "import NAME FILE.csv",
		Short: "Append CSV rows to a table",
		Args:  cobra.ExactArgs(2),
		RunE:  runTableImport,
	}
	importCmd.Flags().Bool("header", true, "First CSV line is a header")
	tableCmd.AddCommand(importCmd)

	tableCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tables with row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
				tables, err := db.Tables().ListTables()
				if err != nil {
					return err
				}
				rows := make([][]any, 0, len(tables))
				for _, t := range tables {
					n, err := db.Tables().RowCount(t.Name)
					if err != nil {
						return err
					}
					cols := make([]string, len(t.Columns))
					for i, c := range t.Columns {
						cols[i] = c.Name + " " + string(c.Type)
					}
					rows = append(rows, []any{t.Name, strings.Join(cols, ", "), n})
				}
				printTable(cmd.OutOrStdout(), []string{"table", "columns", "rows"}, rows)
				return nil
			})
		},
	})
	return tableCmd
}

// parseColumnSpec parses "name:type".
func parseColumnSpec(spec string) (storage.Column, error) {
	name, typ, ok := strings.Cut(spec, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return storage.Column{}, fmt.Errorf("column %q: want NAME:TYPE", spec)
	}
	ct, err := storage.ParseColumnType(typ)
	if err != nil {
		return storage.Column{}, fmt.Errorf("column %s: %w", name, err)
	}
	return storage.Column{Name: name, Type: ct}, nil
}

func runTableImport(cmd *cobra.Command, args []string) error {
	header, _ := cmd.Flags().GetBool("header")
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
		t, err := db.Tables().GetTable(args[0])
		if err != nil {
			return err
		}
		n, err := importCSV(ctx, db.Tables(), t, f, header)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows into %s\n", n, t.Name)
		return nil
	})
}

// importCSV appends the records of r to t in batches. Empty fields and the
// text NULL load as NULL.
func importCSV(ctx context.Context, tables storage.Engine, t *storage.Table, r io.Reader, header bool) (int64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(t.Columns)
	cr.ReuseRecord = true

	var total int64
	batch := make([]storage.Row, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := tables.Insert(t.Name, batch); err != nil {
			return err
		}
		total += int64(len(batch))
		batch = batch[:0]
		return ctx.Err()
	}

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}
		if header && line == 1 {
			continue
		}
		row := make(storage.Row, len(rec))
		for i, field := range rec {
			if row[i], err = storage.ParseText(t.Columns[i].Type, field); err != nil {
				return total, fmt.Errorf("line %d, column %s: %w", line, t.Columns[i].Name, err)
			}
		}
		batch = append(batch, row)
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}

func newGraphCmd() *cobra.Command {
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Manage property graph definitions",
	}

	createCmd := &cobra.Command{
		Use:   "create -f DEFINITION.yaml",
		Short: "Create a property graph from a YAML definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			orReplace, _ := cmd.Flags().GetBool("or-replace")
			pg, err := catalog.LoadFile(file)
			if err != nil {
				return err
			}
			return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
				if _, err := db.Execute(ctx, &nornicpgq.CreatePropertyGraph{Graph: pg, OrReplace: orReplace}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created property graph %s (%d vertex tables, %d edge tables)\n",
					pg.Name, len(pg.Vertices), len(pg.Edges))
				return nil
			})
		},
	}
	createCmd.Flags().StringP("file", "f", "", "Property graph definition file")
	createCmd.Flags().Bool("or-replace", false, "Replace an existing graph of the same name")
	_ = createCmd.MarkFlagRequired("file")
	graphCmd.AddCommand(createCmd)

	dropCmd := &cobra.Command{
		Use:   "drop NAME",
		Short: "Drop a property graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifExists, _ := cmd.Flags().GetBool("if-exists")
			return runStatement(cmd, &nornicpgq.DropPropertyGraph{Name: args[0], IfExists: ifExists})
		},
	}
	dropCmd.Flags().Bool("if-exists", false, "Do not fail when the graph does not exist")
	graphCmd.AddCommand(dropCmd)

	graphCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List property graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
				var rows [][]any
				for _, pg := range db.Catalog().List() {
					rows = append(rows, []any{pg.Name, len(pg.Vertices), len(pg.Edges)})
				}
				printTable(cmd.OutOrStdout(), []string{"graph", "vertex_tables", "edge_tables"}, rows)
				return nil
			})
		},
	})

	graphCmd.AddCommand(&cobra.Command{
		Use:   "describe NAME",
		Short: "List the element tables of a property graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatement(cmd, &nornicpgq.ShowStatement{Kind: nornicpgq.ShowDescribe, Graph: args[0]})
		},
	})

	graphCmd.AddCommand(&cobra.Command{
		Use:   "summarize NAME",
		Short: "Show per-label counts and out-degree statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatement(cmd, &nornicpgq.ShowStatement{Kind: nornicpgq.ShowSummarize, Graph: args[0]})
		},
	})
	return graphCmd
}

func runStatement(cmd *cobra.Command, stmt nornicpgq.Statement) error {
	return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
		res, err := db.Execute(ctx, stmt)
		if err != nil {
			return err
		}
		if len(res.Columns) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		}
		printTable(cmd.OutOrStdout(), res.Columns, res.Rows)
		return nil
	})
}

func graphTableQuery(text string) *pattern.Select {
	return &pattern.Select{From: &pattern.GraphTable{Text: text}}
}

func newMatchCmd() *cobra.Command {
	matchCmd := &cobra.Command{
		Use:   `match "GRAPH_TABLE (graph MATCH ...)"`,
		Short: "Run a GRAPH_TABLE pattern query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asCSV, _ := cmd.Flags().GetBool("csv")
			into, _ := cmd.Flags().GetString("into")
			q := graphTableQuery(args[0])
			switch {
			case into != "":
				return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
					res, err := db.Execute(ctx, &nornicpgq.InsertStatement{Table: into, Query: q})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d rows into %s\n", res.RowsAffected, into)
					return nil
				})
			case asCSV:
				return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
					_, err := db.Execute(ctx, &nornicpgq.CopyStatement{Query: q, Writer: cmd.OutOrStdout(), Header: true})
					return err
				})
			}
			return runStatement(cmd, &nornicpgq.SelectStatement{Query: q})
		},
	}
	matchCmd.Flags().Bool("csv", false, "Write rows as CSV")
	matchCmd.Flags().String("into", "", "Insert rows into this table instead of printing them")
	return matchCmd
}

func newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `explain "GRAPH_TABLE (graph MATCH ...)"`,
		Short: "Show the traversal plans of a pattern query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
				res, err := db.Execute(ctx, &nornicpgq.ExplainStatement{Query: graphTableQuery(args[0])})
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, row := range res.Rows {
					fmt.Fprintf(w, "%v\n", row[3])
					if sql, _ := row[4].(string); sql != "" {
						fmt.Fprintf(w, "%s\n", sql)
					}
					fmt.Fprintln(w)
				}
				return nil
			})
		},
	}
}

func printAlgorithm(cmd *cobra.Command, res *nornicpgq.AlgorithmResult) {
	printTable(cmd.OutOrStdout(), res.Columns, res.Rows)
	if res.Iterations > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "status: %s after %d iterations\n", res.Status, res.Iterations)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", res.Status)
	}
}

func newPageRankCmd() *cobra.Command {
	prCmd := &cobra.Command{
		Use:   "pagerank GRAPH",
		Short: "Rank the vertices of a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts algo.PageRankOptions
			opts.Damping, _ = cmd.Flags().GetFloat64("damping")
			opts.Epsilon, _ = cmd.Flags().GetFloat64("epsilon")
			opts.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")
			return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
				res, err := db.PageRank(ctx, args[0], opts)
				if err != nil {
					return err
				}
				printAlgorithm(cmd, res)
				return nil
			})
		},
	}
	prCmd.Flags().Float64("damping", 0, "Damping factor (0 = config default)")
	prCmd.Flags().Float64("epsilon", 0, "Convergence threshold (0 = config default)")
	prCmd.Flags().Int("max-iterations", 0, "Iteration limit (0 = config default)")
	return prCmd
}

func newWCCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wcc GRAPH",
		Short: "Label weakly connected components",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
				res, err := db.WeaklyConnectedComponents(ctx, args[0])
				if err != nil {
					return err
				}
				printAlgorithm(cmd, res)
				return nil
			})
		},
	}
}

func newReachCmd() *cobra.Command {
	reachCmd := &cobra.Command{
		Use:   "reach GRAPH LABEL KEY",
		Short: "List vertices reachable from a source vertex",
		Long: `List vertices reachable from LABEL(KEY) within --max-hops edges.
With --to LABEL:KEY, print one shortest path instead.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxHops := nornicpgq.DefaultHops
			if cmd.Flags().Changed("max-hops") {
				maxHops, _ = cmd.Flags().GetInt("max-hops")
			}
			to, _ := cmd.Flags().GetString("to")
			source := nornicpgq.VertexID{Label: args[1], Key: args[2]}
			var target nornicpgq.VertexID
			if to != "" {
				label, key, ok := strings.Cut(to, ":")
				if !ok {
					return fmt.Errorf("--to %q: want LABEL:KEY", to)
				}
				target = nornicpgq.VertexID{Label: label, Key: key}
			}
			return withDB(cmd, func(ctx context.Context, db *nornicpgq.DB) error {
				var res *nornicpgq.AlgorithmResult
				var err error
				if to != "" {
					res, err = db.ShortestPath(ctx, args[0], source, target, maxHops)
				} else {
					res, err = db.Reachability(ctx, args[0], source, maxHops)
				}
				if err != nil {
					return err
				}
				if to != "" && len(res.Rows) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No path from %s(%s) to %s\n", source.Label, args[2], to)
					return nil
				}
				printAlgorithm(cmd, res)
				return nil
			})
		},
	}
	reachCmd.Flags().Int("max-hops", 0, "Hop bound (unset = config default, negative = unbounded)")
	reachCmd.Flags().String("to", "", "Target vertex LABEL:KEY for a shortest path")
	return reachCmd
}

// printTable writes rows in the pipe-separated layout of the interactive shell.
func printTable(w io.Writer, columns []string, rows [][]any) {
	head := strings.Join(columns, " | ")
	fmt.Fprintln(w, head)
	fmt.Fprintln(w, strings.Repeat("-", len(head)))
	for _, row := range rows {
		values := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				values[i] = "NULL"
				continue
			}
			values[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(w, strings.Join(values, " | "))
	}
	fmt.Fprintf(w, "\n(%d row(s))\n", len(rows))
}
