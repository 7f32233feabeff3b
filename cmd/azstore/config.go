package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jacktea/azstore/pkg/azureblob"
	"github.com/jacktea/azstore/pkg/filesystem"
	"github.com/jacktea/azstore/pkg/storage"
)

type storageOptions struct {
	AccountName        string
	AccessKey          string
	Container          string
	ServiceURL         string
	MultipartThreshold string
	PartSize           string
	UploadTimeout      time.Duration
	Root               string
	Host               string
}

func storageOptionsFromViper() storageOptions {
	return storageOptions{
		AccountName:        viper.GetString("account_name"),
		AccessKey:          viper.GetString("access_key"),
		Container:          viper.GetString("container"),
		ServiceURL:         viper.GetString("service_url"),
		MultipartThreshold: viper.GetString("multipart_threshold"),
		PartSize:           viper.GetString("part_size"),
		UploadTimeout:      viper.GetDuration("upload_timeout"),
		Root:               viper.GetString("root"),
		Host:               viper.GetString("host"),
	}
}

// buildStorage returns the backend named by provider. Azure credentials are
// not checked here; the adapter reports them on first use.
func buildStorage(provider string, opts storageOptions) (storage.Storage, error) {
	switch strings.ToLower(provider) {
	case "", "azure":
		cfg, err := azureConfig(opts)
		if err != nil {
			return nil, err
		}
		return azureblob.New(cfg), nil
	case "filesystem", "local":
		return filesystem.New(opts.Root, filesystem.Options{Host: opts.Host})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", provider)
	}
}

func azureConfig(opts storageOptions) (azureblob.Config, error) {
	threshold, err := parseSize("multipart_threshold", opts.MultipartThreshold)
	if err != nil {
		return azureblob.Config{}, err
	}
	partSize, err := parseSize("part_size", opts.PartSize)
	if err != nil {
		return azureblob.Config{}, err
	}
	return azureblob.Config{
		AccountName:        opts.AccountName,
		AccessKey:          opts.AccessKey,
		Container:          opts.Container,
		ServiceURL:         opts.ServiceURL,
		MultipartThreshold: azureblob.Thresholds{Upload: threshold},
		PartSize:           partSize,
		UploadTimeout:      opts.UploadTimeout,
	}, nil
}

// parseSize accepts byte counts such as "0", "4096", "64MiB" or "1.5 GB".
func parseSize(key, v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("%s: %s is too large", key, v)
	}
	return int64(n), nil
}
