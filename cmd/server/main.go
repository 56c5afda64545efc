package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"realmdb/internal/api"
	"realmdb/internal/config"
	"realmdb/internal/entities"
	"realmdb/internal/orm"
	"realmdb/internal/pg"
	"realmdb/internal/schema"
	"realmdb/internal/sqlite"
	"realmdb/internal/sqlstore"
	"realmdb/internal/store"
	"realmdb/internal/store/redisstore"
	"realmdb/internal/store/storelogger"
	"realmdb/internal/sweep"
)

var (
	rootCmd = &cobra.Command{
		Use:           "server",
		Short:         "Game world persistence server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the save cycle and the admin API",
		RunE:  cmdServe,
	}

	ddlCmd = &cobra.Command{
		Use:   "ddl",
		Short: "Print SQL DDL for the registered tables",
		RunE:  cmdDDL,
	}

	ddlDialect string
)

func main() {
	config.AddFlags(rootCmd.PersistentFlags())
	ddlCmd.Flags().StringVar(&ddlDialect, "dialect", "", "SQL dialect (postgres/sqlite); defaults to the storage driver")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ddlCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cmdServe(cmd *cobra.Command, args []string) (err error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, sql, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}

	engine := orm.New(log.Named("orm"), st, withRegistry(cfg.Options()))
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			log.Warn("close store", zap.Error(cerr))
		}
	}()
	if err := engine.Register(entities.All()...); err != nil {
		return err
	}
	for _, issue := range engine.Registry().Lint() {
		log.Warn("schema issue",
			zap.String("table", issue.Table),
			zap.String("field", issue.Field),
			zap.String("code", issue.Code),
			zap.String("message", issue.Message))
	}

	if sql != nil {
		types := engine.Registry().All()
		if cfg.AutoMigrate {
			if err := sql.Migrate(ctx, types); err != nil {
				return err
			}
		} else {
			sql.Describe(types...)
		}
	}

	if err := engine.WarmUp(ctx); err != nil {
		return err
	}

	chore := sweep.NewChore(log.Named("sweep"), engine, cfg.Save)
	router := api.NewRouter(log.Named("api"), engine)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return api.Serve(gctx, log, cfg.Addr, router) })
	group.Go(func() error { return chore.Run(gctx) })
	runErr := group.Wait()

	// последнее сохранение, уже без сигнального контекста
	flushCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if ferr := chore.Flush(flushCtx); ferr != nil {
		log.Error("final save failed", zap.Error(ferr))
		if runErr == nil {
			runErr = ferr
		}
	}
	return runErr
}

func cmdDDL(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	name := ddlDialect
	if name == "" {
		name = cfg.Storage.Driver
	}
	var d sqlstore.Dialect
	switch strings.ToLower(name) {
	case config.DriverPostgres:
		d = pg.Dialect{}
	case config.DriverSQLite:
		d = sqlite.Dialect{}
	default:
		return fmt.Errorf("no SQL dialect for %q", name)
	}

	reg := schema.NewRegistry()
	for _, x := range entities.All() {
		if _, err := reg.Compile(reflect.TypeOf(x)); err != nil {
			return err
		}
	}
	stmts, err := sqlstore.DDL(d, reg.All())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, stmt := range stmts {
		fmt.Fprintf(out, "%s;\n", stmt)
	}
	return nil
}

// openStore открывает хранилище по драйверу. Для SQL-драйверов второй
// результат - тот же store, ему нужна схема.
func openStore(ctx context.Context, log *zap.Logger, cfg config.Config) (store.Store, *sqlstore.Store, error) {
	var (
		st  store.Store
		sql *sqlstore.Store
		err error
	)
	switch strings.ToLower(cfg.Storage.Driver) {
	case config.DriverMemory:
		st = store.NewMemory()
	case config.DriverSQLite:
		sql, err = sqlite.Open(ctx, log.Named("sqlite"), cfg.Storage.DSN)
		st = sql
	case config.DriverPostgres:
		sql, err = pg.Open(ctx, log.Named("pg"), cfg.Storage.DSN, cfg.Storage.Pool)
		st = sql
	case config.DriverRedis:
		st, err = redisstore.OpenClientFrom(ctx, cfg.Storage.DSN)
	default:
		err = config.Error.New("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	log.Info("storage opened", zap.String("driver", cfg.Storage.Driver))

	if cfg.Storage.LogOps {
		st = storelogger.New(log, st)
	}
	return st, sql, nil
}

func withRegistry(opts orm.Options) orm.Options {
	opts.Registry = schema.NewRegistry()
	return opts
}
