package main

import (
	"os"

	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const (
	hostFlagName         = "host"
	portFlagName         = "port"
	databaseFlagName     = "database"
	backendFlagName      = "backend"
	verboseFlagName      = "verbose"
	onlyCreateFlagName   = "only-create"
	onlyStressFlagName   = "only-stress"
	keepDatabaseFlagName = "keep-database"
	configFlagName       = "config"
	outputFlagName       = "output"
	statusAddrFlagName   = "status-addr"

	compressibilityFlagName = "compressibility"
)

// intSetting binds an integer flag to a field of the workload configuration.
type intSetting struct {
	name  string
	usage string
	field func(*config.Config) *int
}

var intSettings = []intSetting{
	{"collections", "number of collections", func(c *config.Config) *int { return &c.Collections }},
	{"indexes", "number of indexes per collection", func(c *config.Config) *int { return &c.Indexes }},
	{"fields", "number of integer fields per document", func(c *config.Config) *int { return &c.Fields }},
	{"documents", "number of documents per collection", func(c *config.Config) *int { return &c.Documents }},
	{"seconds", "duration of the stress phase in seconds", func(c *config.Config) *int { return &c.Seconds }},
	{"padding", "bytes of padding per document", func(c *config.Config) *int { return &c.Padding }},
	{"fill-batch", "documents per insert while filling", func(c *config.Config) *int { return &c.FillBatch }},
	{"update-threads", "update workers per collection", func(c *config.Config) *int { return &c.Update.Threads }},
	{"update-batch", "documents updated per update step", func(c *config.Config) *int { return &c.Update.Batch }},
	{"save-threads", "whole-document upsert workers per collection", func(c *config.Config) *int { return &c.Save.Threads }},
	{"save-batch", "documents upserted per save step", func(c *config.Config) *int { return &c.Save.Batch }},
	{"scan-threads", "full scan workers per collection", func(c *config.Config) *int { return &c.Scan.Threads }},
	{"ptquery-threads", "point query workers per collection", func(c *config.Config) *int { return &c.PointQuery.Threads }},
	{"ptquery-batch", "documents looked up per point query step", func(c *config.Config) *int { return &c.PointQuery.Batch }},
	{"range-query-threads", "_id range query workers per collection", func(c *config.Config) *int { return &c.RangeQuery.Threads }},
	{"range-query-stride", "consecutive documents read per range query", func(c *config.Config) *int { return &c.RangeQuery.Stride }},
	{"drop-threads", "drop workers per collection", func(c *config.Config) *int { return &c.Drop.Threads }},
	{"drop-period", "seconds between drops of a drop worker", func(c *config.Config) *int { return &c.Drop.Period }},
}

func main() {
	args, err := config.ExpandArgs(os.Args[1:])
	grip.EmergencyFatal(errors.Wrap(err, "expanding arguments"))

	grip.EmergencyFatal(buildApp().Run(append([]string{os.Args[0]}, args...)))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "mongodb-stress"
	app.Usage = "stress a MongoDB deployment with a concurrent mixed workload"
	app.ArgsUsage = "[@argfile ...]"
	app.HideVersion = true
	app.Flags = buildFlags()
	app.Before = mergeBeforeFuncs(
		setupLogging,
		mutuallyExclusiveArgs(onlyCreateFlagName, onlyStressFlagName),
	)
	app.Action = run
	return app
}

func buildFlags() []cli.Flag {
	defaults := config.Defaults()
	flags := []cli.Flag{
		cli.StringFlag{
			Name:  hostFlagName,
			Value: "127.0.0.1",
			Usage: "host of the server to stress",
		},
		cli.IntFlag{
			Name:  portFlagName,
			Value: 27017,
			Usage: "port of the server to stress",
		},
		cli.StringFlag{
			Name:  databaseFlagName,
			Value: "stress_test",
			Usage: "database holding the stress collections",
		},
		cli.StringFlag{
			Name:  backendFlagName,
			Value: "mongo",
			Usage: "document store to drive: 'mongo' or 'memory' (in-process dry run)",
		},
		cli.IntFlag{
			Name:  joinFlagNames(verboseFlagName, "v"),
			Usage: "log verbosity: 0 warnings, 1 info, 2 debug",
		},
		cli.BoolFlag{
			Name:  onlyCreateFlagName,
			Usage: "create and fill the collections, then exit",
		},
		cli.BoolFlag{
			Name:  onlyStressFlagName,
			Usage: "stress existing collections without recreating them",
		},
		cli.BoolFlag{
			Name:  keepDatabaseFlagName,
			Usage: "do not drop the database after the run",
		},
		cli.StringFlag{
			Name:  configFlagName,
			Usage: "YAML workload file; explicit flags take precedence",
		},
		cli.StringFlag{
			Name:  outputFlagName,
			Usage: "prefix of CSV files for per-phase meter samples and summaries",
		},
		cli.StringFlag{
			Name:  statusAddrFlagName,
			Usage: "serve live meters on this address at GET /status",
		},
		cli.Float64Flag{
			Name:  compressibilityFlagName,
			Value: defaults.Compressibility,
			Usage: "fraction of the padding that is compressible",
		},
	}
	for _, s := range intSettings {
		flags = append(flags, cli.IntFlag{
			Name:  s.name,
			Value: *s.field(&defaults),
			Usage: s.usage,
		})
	}
	return flags
}

// loadConfig layers the workload file and the explicitly set flags over the
// defaults.
func loadConfig(c *cli.Context) (config.Config, error) {
	conf := config.Defaults()
	if path := c.String(configFlagName); path != "" {
		if err := config.LoadFile(path, &conf); err != nil {
			return conf, err
		}
	}
	for _, s := range intSettings {
		if c.IsSet(s.name) {
			*s.field(&conf) = c.Int(s.name)
		}
	}
	if c.IsSet(compressibilityFlagName) {
		conf.Compressibility = c.Float64(compressibilityFlagName)
	}
	return conf, nil
}

func joinFlagNames(ids ...string) string {
	out := ids[0]
	for _, id := range ids[1:] {
		out += ", " + id
	}
	return out
}

func mergeBeforeFuncs(ops ...func(c *cli.Context) error) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()

		for _, op := range ops {
			catcher.Add(op(c))
		}

		return catcher.Resolve()
	}
}

func mutuallyExclusiveArgs(flags ...string) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		var set []string
		for _, f := range flags {
			if c.Bool(f) {
				set = append(set, f)
			}
		}
		if len(set) > 1 {
			return errors.Errorf("only one of %v may be set", set)
		}
		return nil
	}
}

var verbosityLevels = []level.Priority{level.Warning, level.Info, level.Debug}

func setupLogging(c *cli.Context) error {
	v := c.Int(verboseFlagName)
	v = max(0, min(v, len(verbosityLevels)-1))

	sender := send.MakePlainLogger()
	sender.SetName("mongodb-stress")
	if err := sender.SetLevel(send.LevelInfo{Default: level.Info, Threshold: verbosityLevels[v]}); err != nil {
		return errors.Wrap(err, "setting log level")
	}
	return errors.Wrap(grip.SetSender(sender), "setting up logger")
}
