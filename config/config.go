// Package config loads pagedb settings from YAML and builds the backing store
// they describe.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/pagedb"
	"github.com/hupe1980/pagedb/blobstore"
	pgminio "github.com/hupe1980/pagedb/blobstore/minio"
	pgs3 "github.com/hupe1980/pagedb/blobstore/s3"
	"github.com/hupe1980/pagedb/blobstore/sqlite"
	"github.com/hupe1980/pagedb/codec"
	"github.com/hupe1980/pagedb/page"
	"github.com/hupe1980/pagedb/pagestore"
)

// Store kinds.
const (
	KindLocal  = "local"
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindMinIO  = "minio"
	KindS3     = "s3"
)

// ErrInvalid is returned for a configuration that cannot be used.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Store  StoreConfig            `yaml:"store"`
	Index  IndexConfig            `yaml:"index"`
	Limits *pagedb.ResourceLimits `yaml:"limits"`
	Log    LogConfig              `yaml:"log"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"` // local, memory, sqlite, minio or s3
	Path string `yaml:"path"` // directory (local) or database file (sqlite)

	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"` // minio host:port, or an S3-compatible URL
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`

	// DynamoDBTable moves the CURRENT pointer of an s3 store into DynamoDB.
	DynamoDBTable string `yaml:"dynamodb_table"`
	// CommitHistory is how many DynamoDB commit rows to keep when pruning.
	CommitHistory int `yaml:"commit_history"`

	BlockCacheBytes int64 `yaml:"block_cache_bytes"`
	BlockSize       int64 `yaml:"block_size"`
}

type IndexConfig struct {
	Codec                   string  `yaml:"codec"`
	Compression             string  `yaml:"compression"`
	LeafFanout              int     `yaml:"leaf_fanout"`
	InnerFanout             int     `yaml:"inner_fanout"`
	CacheBytes              int64   `yaml:"cache_bytes"`
	SoftCacheBytes          int64   `yaml:"soft_cache_bytes"`
	FilterCapacity          int     `yaml:"filter_capacity"`
	FilterFalsePositiveRate float64 `yaml:"filter_false_positive_rate"`
	FlushOnClose            *bool   `yaml:"flush_on_close"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Kind:          KindLocal,
			Path:          "pagedb_data",
			CommitHistory: 10,
			BlockSize:     64 << 10,
		},
		Index: IndexConfig{
			Codec:                   codec.Default.Name(),
			Compression:             "lz4",
			LeafFanout:              pagestore.DefaultFanout,
			InnerFanout:             pagestore.DefaultFanout,
			CacheBytes:              pagestore.DefaultCacheBytes,
			SoftCacheBytes:          pagestore.DefaultSoftCacheBytes,
			FilterCapacity:          pagestore.DefaultFilterCapacity,
			FilterFalsePositiveRate: pagestore.DefaultFilterFalsePositiveRate,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads the YAML file at configPath over the defaults. An empty path
// tries pagedb.yaml and configs/pagedb.yaml and falls back to the defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"pagedb.yaml", "configs/pagedb.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, fmt.Errorf("config: %s: %w", p, err)
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", configPath, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Store.Kind = strings.ToLower(cfg.Store.Kind)
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = KindLocal
	}
	if cfg.Store.CommitHistory <= 0 {
		cfg.Store.CommitHistory = 10
	}
	if cfg.Store.BlockSize <= 0 {
		cfg.Store.BlockSize = 64 << 10
	}
	if cfg.Index.Codec == "" {
		cfg.Index.Codec = codec.Default.Name()
	}
	if cfg.Index.LeafFanout == 0 {
		cfg.Index.LeafFanout = pagestore.DefaultFanout
	}
	if cfg.Index.InnerFanout == 0 {
		cfg.Index.InnerFanout = pagestore.DefaultFanout
	}
	if cfg.Index.CacheBytes <= 0 {
		cfg.Index.CacheBytes = pagestore.DefaultCacheBytes
	}
	if cfg.Index.SoftCacheBytes < 0 {
		cfg.Index.SoftCacheBytes = 0
	}
	if cfg.Index.FilterCapacity <= 0 {
		cfg.Index.FilterCapacity = pagestore.DefaultFilterCapacity
	}
	if cfg.Index.FilterFalsePositiveRate <= 0 || cfg.Index.FilterFalsePositiveRate >= 1 {
		cfg.Index.FilterFalsePositiveRate = pagestore.DefaultFilterFalsePositiveRate
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
}

// Options translates the index, limit and log sections into Open options.
func (c *Config) Options() ([]pagedb.Option, error) {
	cd, ok := codec.ByName(c.Index.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: codec %q", ErrInvalid, c.Index.Codec)
	}
	comp, err := page.ParseCompression(c.Index.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	logger, err := c.Log.Logger()
	if err != nil {
		return nil, err
	}

	opts := []pagedb.Option{
		pagedb.WithCodec(cd),
		pagedb.WithCompression(comp),
		pagedb.WithFanout(c.Index.LeafFanout, c.Index.InnerFanout),
		pagedb.WithCacheBytes(c.Index.CacheBytes, c.Index.SoftCacheBytes),
		pagedb.WithFilter(c.Index.FilterCapacity, c.Index.FilterFalsePositiveRate),
		pagedb.WithLogger(logger),
	}
	if c.Limits != nil {
		opts = append(opts, pagedb.WithResourceLimits(*c.Limits))
	}
	if c.Store.BlockCacheBytes > 0 {
		opts = append(opts, pagedb.WithBlockCache(c.Store.BlockCacheBytes, c.Store.BlockSize))
	}
	if c.Index.FlushOnClose != nil {
		opts = append(opts, pagedb.WithFlushOnClose(*c.Index.FlushOnClose))
	}
	return opts, nil
}

// Logger builds the configured logger.
func (l LogConfig) Logger() (*pagedb.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", ErrInvalid, l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "", "text":
		return pagedb.NewTextLogger(level), nil
	case "json":
		return pagedb.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("%w: log format %q", ErrInvalid, l.Format)
	}
}

// OpenStore builds the backing store described by sc.
func OpenStore(ctx context.Context, sc StoreConfig) (blobstore.BlobStore, error) {
	switch sc.Kind {
	case KindLocal:
		if sc.Path == "" {
			return nil, fmt.Errorf("%w: local store needs a path", ErrInvalid)
		}
		return blobstore.NewLocalStore(sc.Path)
	case KindMemory:
		return blobstore.NewMemoryStore(), nil
	case KindSQLite:
		if sc.Path == "" {
			return nil, fmt.Errorf("%w: sqlite store needs a path", ErrInvalid)
		}
		return sqlite.Open(ctx, sc.Path)
	case KindMinIO:
		return openMinIO(ctx, sc)
	case KindS3:
		return openS3(ctx, sc)
	default:
		return nil, fmt.Errorf("%w: store kind %q", ErrInvalid, sc.Kind)
	}
}

func openMinIO(ctx context.Context, sc StoreConfig) (blobstore.BlobStore, error) {
	if sc.Endpoint == "" || sc.Bucket == "" {
		return nil, fmt.Errorf("%w: minio store needs endpoint and bucket", ErrInvalid)
	}
	client, err := minio.New(sc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(sc.AccessKey, sc.SecretKey, ""),
		Secure: sc.Secure,
		Region: sc.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("config: minio client: %w", err)
	}
	s := pgminio.NewStore(client, sc.Bucket, sc.Prefix)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func openS3(ctx context.Context, sc StoreConfig) (blobstore.BlobStore, error) {
	if sc.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 store needs a bucket", ErrInvalid)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOptions(sc)...)
	if err != nil {
		return nil, fmt.Errorf("config: aws: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		}
	})
	store := pgs3.NewStore(client, sc.Bucket, sc.Prefix)
	if sc.DynamoDBTable == "" {
		return store, nil
	}
	return pgs3.NewDDBCommitStore(store, dynamodb.NewFromConfig(awsCfg), sc.DynamoDBTable, ""), nil
}

func awsOptions(sc StoreConfig) []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if sc.Region != "" {
		opts = append(opts, awsconfig.WithRegion(sc.Region))
	}
	if sc.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: sc.AccessKey, SecretAccessKey: sc.SecretKey, Source: "pagedb config"}, nil
			})))
	}
	return opts
}
