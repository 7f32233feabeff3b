package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacktea/azstore/pkg/storage"
)

type app struct {
	ctx     context.Context
	backend storage.Storage
	log     zerolog.Logger
}

func (a *app) ensureBackend(ctx context.Context) error {
	if a.backend != nil {
		return nil
	}
	log, err := newLogger(viper.GetString("log_level"), os.Stderr)
	if err != nil {
		return err
	}
	backend, err := buildStorage(viper.GetString("backend"), storageOptionsFromViper())
	if err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	a.log = log
	a.ctx = log.WithContext(ctx)
	a.backend = backend
	return nil
}

var (
	cfgFile     string
	envFile     string
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "azstore",
		Short:         "Store and fetch attachments in Azure Blob Storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.ensureBackend(cmd.Context())
		},
	}
)

func init() {
	cobra.OnInitialize(loadEnvFile, initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadEnvFile() {
	path := envFile
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if envFile != "" || !errors.Is(err, iofs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("azstore")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "azstore"))
		}
	}
	viper.SetEnvPrefix("AZSTORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")
	flags.StringVar(&envFile, "env-file", "", "dotenv file to load (default .env when present)")
	flags.String("log-level", "info", "log level: debug|info|warn|error")

	flags.String("backend", "azure", "storage backend: azure|filesystem")
	flags.String("account-name", "", "storage account name")
	flags.String("access-key", "", "storage account shared key (base64)")
	flags.String("container", "", "blob container")
	flags.String("service-url", "", "blob service endpoint (default https://<account>.blob.core.windows.net/)")
	flags.String("multipart-threshold", "0", "upload size at which staged block uploads start, e.g. 64MiB (0 disables)")
	flags.String("part-size", "4MiB", "block size for staged uploads")
	flags.Duration("upload-timeout", 30*time.Second, "deadline for a single upload (negative disables)")
	flags.String("root", ".azstore/objects", "object root for the filesystem backend")
	flags.String("cache-root", ".azstore/cache", "root of the filesystem cache used by promote")
	flags.String("host", "", "URL prefix for filesystem backend URLs")

	bindConfig("log_level", flags.Lookup("log-level"))
	bindConfig("backend", flags.Lookup("backend"))
	bindConfig("account_name", flags.Lookup("account-name"))
	bindConfig("access_key", flags.Lookup("access-key"))
	bindConfig("container", flags.Lookup("container"))
	bindConfig("service_url", flags.Lookup("service-url"))
	bindConfig("multipart_threshold", flags.Lookup("multipart-threshold"))
	bindConfig("part_size", flags.Lookup("part-size"))
	bindConfig("upload_timeout", flags.Lookup("upload-timeout"))
	bindConfig("root", flags.Lookup("root"))
	bindConfig("cache_root", flags.Lookup("cache-root"))
	bindConfig("host", flags.Lookup("host"))
}

func initCommands() {
	rootCmd.AddCommand(
		newPutCmd(),
		newGetCmd(),
		newRmCmd(),
		newURLCmd(),
		newExistsCmd(),
		newPromoteCmd(),
		newServeHTTPCmd(),
	)
}

func newLogger(level string, w io.Writer) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level: %w", err)
		}
		lvl = parsed
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
