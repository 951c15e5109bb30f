package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-schemaplus/pkg/adapters"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/config"
	"github.com/ekaya-inc/ekaya-schemaplus/pkg/schema"
	sqlcheck "github.com/ekaya-inc/ekaya-schemaplus/pkg/sql"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "schemaplus",
		Usage:   "Inspect and change views, foreign keys and indexes across PostgreSQL, MySQL and SQLite",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (environment only when empty)",
				Sources: cli.EnvVars("SCHEMAPLUS_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output results as JSON",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "engines",
				Usage:  "List the engines compiled in",
				Action: runEngines,
			},
			{
				Name:   "views",
				Usage:  "List views",
				Action: withAdapter(runViews),
			},
			{
				Name:      "view",
				Usage:     "Print a view's definition",
				ArgsUsage: "<name>",
				Action:    withAdapter(runViewDefinition),
			},
			{
				Name:      "create-view",
				Usage:     "Create a view",
				ArgsUsage: "<name> <select statement>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "drop an existing view first"},
				},
				Action: withAdapter(runCreateView),
			},
			{
				Name:      "drop-view",
				Usage:     "Drop a view",
				ArgsUsage: "<name>",
				Action:    withAdapter(runDropView),
			},
			{
				Name:      "foreign-keys",
				Aliases:   []string{"fks"},
				Usage:     "List a table's foreign keys",
				ArgsUsage: "<table>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "reverse", Aliases: []string{"r"}, Usage: "list keys on other tables that reference <table>"},
				},
				Action: withAdapter(runForeignKeys),
			},
			{
				Name:      "add-foreign-key",
				Usage:     "Add a foreign key",
				ArgsUsage: "<table> <column[,column...]> <referenced table> <column[,column...]>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "constraint name"},
					&cli.StringFlag{Name: "on-update", Usage: "cascade, restrict, set_null, set_default or no_action"},
					&cli.StringFlag{Name: "on-delete", Usage: "cascade, restrict, set_null, set_default or no_action"},
					&cli.StringFlag{Name: "deferrable", Usage: "true or initially_deferred"},
				},
				Action: withAdapter(runAddForeignKey),
			},
			{
				Name:      "remove-foreign-key",
				Usage:     "Remove a foreign key",
				ArgsUsage: "<table> <constraint name>",
				Action:    withAdapter(runRemoveForeignKey),
			},
			{
				Name:      "drop-table",
				Usage:     "Drop a table after removing foreign keys that reference it",
				ArgsUsage: "<table>",
				Action:    withAdapter(runDropTable),
			},
			{
				Name:      "indexes",
				Usage:     "List a table's indexes",
				ArgsUsage: "<table>",
				Action:    withAdapter(runIndexes),
			},
			{
				Name:      "columns",
				Usage:     "List a table's columns and parsed defaults",
				ArgsUsage: "<table>",
				Action:    withAdapter(runColumns),
			},
		},
	}
}

type adapterAction func(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error

// withAdapter loads configuration, opens the configured datasource through
// a connection manager and runs action against the attached adapter.
func withAdapter(action adapterAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.Load(cmd.String("config"), Version)
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		opts := []schema.Option{schema.WithTableNamer(cfg.Naming.TableNamer())}
		if cfg.StrictEngine {
			opts = append(opts, schema.WithStrictEngine())
		}
		if cfg.ForeignKeyIndex {
			opts = append(opts, schema.WithForeignKeyIndex())
		}

		manager := adapters.NewConnectionManager(adapters.ConnectionManagerConfig{
			TTLMinutes:     cfg.Connections.TTLMinutes,
			MaxConnections: cfg.Connections.MaxConnections,
		}, logger, opts...)
		defer manager.Close()

		a, err := manager.GetOrCreate(ctx, cfg.Datasource.DatasourceID(), cfg.Datasource.Engine, cfg.Datasource.Map())
		if err != nil {
			return err
		}
		return action(ctx, cmd, a)
	}
}

// newLogger logs to stderr so command output stays clean.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}

	logConfig := zap.NewProductionConfig()
	if cfg.Env == "local" {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.OutputPaths = []string{"stderr"}
	return logConfig.Build()
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(writer(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLines(cmd *cli.Command, lines []string) error {
	w := writer(cmd)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func requireArgs(cmd *cli.Command, n int) error {
	if cmd.Args().Len() < n {
		return fmt.Errorf("usage: %s %s %s", cmd.Root().Name, cmd.Name, cmd.ArgsUsage)
	}
	return nil
}

func splitColumns(s string) []string {
	parts := strings.Split(s, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}

func runEngines(ctx context.Context, cmd *cli.Command) error {
	engines := schema.RegisteredEngines()
	if cmd.Bool("json") {
		return printJSON(cmd, engines)
	}
	lines := make([]string, 0, len(engines))
	for _, e := range engines {
		lines = append(lines, fmt.Sprintf("%-10s %s", e.Engine, e.Description))
	}
	return printLines(cmd, lines)
}

func runViews(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	views, err := a.Views(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(cmd, views)
	}
	return printLines(cmd, views)
}

func runViewDefinition(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	def, err := a.ViewDefinition(ctx, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(cmd, map[string]string{"name": cmd.Args().Get(0), "definition": def})
	}
	return printLines(cmd, []string{def})
}

func runCreateView(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	definition, err := sqlcheck.NormalizeStatement(strings.Join(cmd.Args().Slice()[1:], " "))
	if err != nil {
		return err
	}
	return a.CreateView(ctx, cmd.Args().Get(0), definition, schema.ViewOptions{Force: cmd.Bool("force")})
}

func runDropView(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	return a.DropView(ctx, cmd.Args().Get(0))
}

// foreignKeyOutput is the JSON form of a ForeignKeyDefinition.
type foreignKeyOutput struct {
	Name              string   `json:"name,omitempty"`
	Table             string   `json:"table"`
	Columns           []string `json:"columns"`
	ReferencesTable   string   `json:"references_table"`
	ReferencesColumns []string `json:"references_columns"`
	OnUpdate          string   `json:"on_update,omitempty"`
	OnDelete          string   `json:"on_delete,omitempty"`
	Deferrable        bool     `json:"deferrable,omitempty"`
	SQL               string   `json:"sql"`
}

func runForeignKeys(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	table := cmd.Args().Get(0)

	var (
		fks []schema.ForeignKeyDefinition
		err error
	)
	if cmd.Bool("reverse") {
		fks, err = a.ReverseForeignKeys(ctx, table)
	} else {
		fks, err = a.ForeignKeys(ctx, table)
	}
	if err != nil {
		return err
	}

	conn := a.Conn()
	if cmd.Bool("json") {
		out := make([]foreignKeyOutput, 0, len(fks))
		for _, fk := range fks {
			out = append(out, foreignKeyOutput{
				Name:              fk.Name,
				Table:             fk.TableName,
				Columns:           fk.ColumnNames,
				ReferencesTable:   fk.ReferencesTableName,
				ReferencesColumns: fk.ReferencesColumnNames,
				OnUpdate:          fk.OnUpdate.String(),
				OnDelete:          fk.OnDelete.String(),
				Deferrable:        fk.Deferrable != schema.NotDeferrable,
				SQL:               fk.ToSQL(conn),
			})
		}
		return printJSON(cmd, out)
	}

	lines := make([]string, 0, len(fks))
	for _, fk := range fks {
		lines = append(lines, conn.QuoteTableName(fk.TableName)+": "+fk.ToSQL(conn))
	}
	return printLines(cmd, lines)
}

func parseDeferrable(s string) (schema.Deferrable, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false":
		return schema.NotDeferrable, nil
	case "true", "immediate":
		return schema.DeferrableImmediate, nil
	case "initially_deferred", "deferred":
		return schema.DeferrableInitiallyDeferred, nil
	default:
		return schema.NotDeferrable, fmt.Errorf("invalid deferrable value %q", s)
	}
}

func runAddForeignKey(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 4); err != nil {
		return err
	}

	opts := schema.ForeignKeyOptions{Name: cmd.String("name")}
	var err error
	if opts.OnUpdate, err = schema.ParseReferentialAction(cmd.String("on-update")); err != nil {
		return err
	}
	if opts.OnDelete, err = schema.ParseReferentialAction(cmd.String("on-delete")); err != nil {
		return err
	}
	if opts.Deferrable, err = parseDeferrable(cmd.String("deferrable")); err != nil {
		return err
	}

	args := cmd.Args()
	return a.AddForeignKey(ctx, args.Get(0), splitColumns(args.Get(1)), args.Get(2), splitColumns(args.Get(3)), opts)
}

func runRemoveForeignKey(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	return a.RemoveForeignKey(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
}

func runDropTable(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	return a.DropTable(ctx, cmd.Args().Get(0))
}

func runIndexes(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	indexes, err := a.Indexes(ctx, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(cmd, indexes)
	}

	lines := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		line := idx.Name + " (" + strings.Join(idx.Columns, ", ") + ")"
		if idx.Unique {
			line += " UNIQUE"
		}
		if idx.Where != "" {
			line += " WHERE " + idx.Where
		}
		lines = append(lines, line)
	}
	return printLines(cmd, lines)
}

// columnOutput is the JSON form of a Column.
type columnOutput struct {
	Name          string `json:"name"`
	DataType      string `json:"data_type"`
	Nullable      bool   `json:"nullable"`
	Default       any    `json:"default,omitempty"`
	DefaultExpr   string `json:"default_expr,omitempty"`
	DefaultFunc   string `json:"default_function,omitempty"`
	RawDefaultSQL string `json:"raw_default,omitempty"`
}

func runColumns(ctx context.Context, cmd *cli.Command, a *schema.Adapter) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	cols, err := a.Columns(ctx, cmd.Args().Get(0))
	if err != nil {
		return err
	}

	out := make([]columnOutput, 0, len(cols))
	for _, col := range cols {
		o := columnOutput{Name: col.ColumnName, DataType: col.DataType, Nullable: col.IsNullable}
		if col.DefaultValue != nil {
			o.RawDefaultSQL = *col.DefaultValue
		}
		if col.Default != nil {
			o.Default = col.Default.Value
			o.DefaultExpr = col.Default.Expr
			o.DefaultFunc = string(col.Default.Function)
		}
		out = append(out, o)
	}
	if cmd.Bool("json") {
		return printJSON(cmd, out)
	}

	lines := make([]string, 0, len(out))
	for _, o := range out {
		line := o.Name + " " + o.DataType
		if !o.Nullable {
			line += " NOT NULL"
		}
		if o.RawDefaultSQL != "" {
			line += " DEFAULT " + o.RawDefaultSQL
		}
		lines = append(lines, line)
	}
	return printLines(cmd, lines)
}
