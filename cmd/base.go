// Package cmd is the base package for the executables built from go-regionsync
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	bc "github.com/spacemeshos/go-regionsync/config"
	"github.com/spacemeshos/go-regionsync/config/presets"
	"github.com/spacemeshos/go-regionsync/log"
)

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Branch is the git branch used to build the App. Designed to be overwritten by make.
	Branch string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

var (
	mu                      sync.RWMutex
	globalCtx, globalCancel = context.WithCancel(context.Background())
)

// Ctx returns global context.
func Ctx() context.Context {
	mu.RLock()
	defer mu.RUnlock()

	return globalCtx
}

// SetCtx sets global context.
func SetCtx(ctx context.Context) {
	mu.Lock()
	defer mu.Unlock()

	globalCtx = ctx
}

// Cancel returns global cancellation function.
func Cancel() func() {
	mu.RLock()
	defer mu.RUnlock()

	return globalCancel
}

// SetCancel sets global cancellation function.
func SetCancel(cancelFunc func()) {
	mu.Lock()
	defer mu.Unlock()

	globalCancel = cancelFunc
}

// BaseApp is the base application command, provides basic init and flags for all executables and applications.
type BaseApp struct {
	Config *bc.Config
	Logger *zap.Logger
}

// NewBaseApp returns new basic application.
func NewBaseApp() *BaseApp {
	dc := bc.DefaultConfig()
	return &BaseApp{Config: &dc, Logger: log.NewNop()}
}

// Initialize loads config, sets logger and listens to Ctrl ^C.
func (app *BaseApp) Initialize(cmd *cobra.Command) error {
	conf, err := parseConfig()
	if err != nil {
		return log.ErrMalformedConfig(err)
	}
	if err := EnsureCLIFlags(cmd, conf); err != nil {
		return log.ErrBadFlags(err)
	}
	if err := conf.Validate(); err != nil {
		return log.ErrMalformedConfig(err)
	}
	app.Config = conf
	logger, err := app.NewLogger("app", conf.LOGGING.AppLoggerLevel)
	if err != nil {
		return log.ErrMalformedConfig(err)
	}
	app.Logger = logger

	// exit gracefully on ctrl-c
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		for range signalChan {
			app.Logger.Info("received an interrupt, stopping")
			Cancel()()
		}
	}()
	return nil
}

// NewLogger creates a named logger with the configured encoder.
func (app *BaseApp) NewLogger(name, level string) (*zap.Logger, error) {
	logger, err := log.New(name, level, app.Config.LOGGING.Encoder)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", name, err)
	}
	return logger, nil
}

func parseConfig() (*bc.Config, error) {
	fileLocation := viper.GetString("config")
	vip := viper.New()
	// read in default config if passed as param using viper
	if err := bc.LoadConfig(fileLocation, vip); err != nil {
		fmt.Fprintf(os.Stderr, "couldn't load config file at location: %s switching to defaults\nerror: %v\n",
			fileLocation, err)
	}

	conf := bc.DefaultConfig()
	if name := viper.GetString("preset"); len(name) > 0 {
		preset, err := presets.Get(name)
		if err != nil {
			return nil, err
		}
		conf = preset
	}
	if err := bc.Decode(vip, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// EnsureCLIFlags checks flag types and converts them.
func EnsureCLIFlags(cmd *cobra.Command, appCFG *bc.Config) error {
	var err error
	assignFields := func(p reflect.Type, elem reflect.Value, name string) {
		for i := 0; i < p.NumField(); i++ {
			if p.Field(i).Tag.Get("mapstructure") == name {
				var val any
				switch p.Field(i).Type.String() {
				case "bool":
					val = viper.GetBool(name)
				case "string":
					val = viper.GetString(name)
				case "int":
					val = viper.GetInt(name)
				case "int64":
					val = viper.GetInt64(name)
				case "uint64":
					val = viper.GetUint64(name)
				case "float64":
					val = viper.GetFloat64(name)
				case "[]string":
					val = viper.GetStringSlice(name)
				case "time.Duration":
					val = viper.GetDuration(name)
				default:
					val = viper.Get(name)
				}
				rv := reflect.ValueOf(val)
				if !rv.IsValid() {
					return
				}
				if !rv.Type().AssignableTo(elem.Field(i).Type()) {
					err = fmt.Errorf("flag %s: can't assign %T to %s", name, val, p.Field(i).Type)
					return
				}
				elem.Field(i).Set(rv)
				return
			}
		}
	}

	// viper can't handle nested structs when deserializing flags
	cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed || err != nil {
			return
		}
		name := f.Name

		ff := reflect.TypeOf(appCFG.BaseConfig)
		elem := reflect.ValueOf(&appCFG.BaseConfig).Elem()
		assignFields(ff, elem, name)

		ff = reflect.TypeOf(appCFG.LOGGING)
		elem = reflect.ValueOf(&appCFG.LOGGING).Elem()
		assignFields(ff, elem, name)

		ff = reflect.TypeOf(appCFG.Versions)
		elem = reflect.ValueOf(&appCFG.Versions).Elem()
		assignFields(ff, elem, name)

		ff = reflect.TypeOf(appCFG.Sync)
		elem = reflect.ValueOf(&appCFG.Sync).Elem()
		assignFields(ff, elem, name)
	})
	return err
}
