// Package config loads settings for the crashlog commands. Values are
// layered: defaults, then an optional JSON file, then CRASHLOG_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
)

// DefaultFileName matches the engine default.
const DefaultFileName = "error_log.txt"

// Client configures the device side.
type Client struct {
	Dir         string
	FileName    string
	MinutesWait int
	Debug       bool
	AppName     string

	ServerURL string
	APIKey    string
	// KeyFile holds the payload sealing key. Empty disables sealing.
	KeyFile string

	GCSBucket  string
	GCSPrefix  string
	GCSKeyFile string
}

// Collector configures the upload receiver.
type Collector struct {
	Port      int
	DataDir   string
	Retention time.Duration
	// APIKeyHash is a bcrypt hash; APIKey is hashed at startup when no hash
	// is given.
	APIKeyHash string
	APIKey     string
	KeyFile    string
}

func DefaultClient() Client {
	return Client{
		FileName:    DefaultFileName,
		MinutesWait: 30,
		AppName:     "crashlog",
		GCSPrefix:   "crashlog",
	}
}

func DefaultCollector() Collector {
	return Collector{
		Port:      8090,
		DataDir:   "./data",
		Retention: 7 * 24 * time.Hour,
	}
}

func (c *Client) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Dir, "dir", c.Dir, "Directory holding the log file (default: user config dir)")
	fs.StringVar(&c.FileName, "file", c.FileName, "Log file name")
	fs.IntVar(&c.MinutesWait, "minutes", c.MinutesWait, "Minutes between upload checks")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Print records to the console only")
	fs.StringVar(&c.AppName, "app", c.AppName, "Application name reported to the collector")
	fs.StringVar(&c.ServerURL, "server", c.ServerURL, "Collector base URL")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "Collector API key")
	fs.StringVar(&c.KeyFile, "key-file", c.KeyFile, "Payload sealing key file")
	fs.StringVar(&c.GCSBucket, "gcs-bucket", c.GCSBucket, "Upload to this GCS bucket instead of a collector")
	fs.StringVar(&c.GCSPrefix, "gcs-prefix", c.GCSPrefix, "GCS object prefix")
	fs.StringVar(&c.GCSKeyFile, "gcs-key", c.GCSKeyFile, "GCS service account key file")
}

func (c *Collector) bind(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "HTTP port to listen on")
	fs.StringVar(&c.DataDir, "data", c.DataDir, "Directory to store uploaded logs")
	fs.DurationVar(&c.Retention, "retention", c.Retention, "Keep uploads this long (0 keeps forever)")
	fs.StringVar(&c.APIKeyHash, "api-key-hash", c.APIKeyHash, "bcrypt hash of the upload key")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "Upload key (hashed at startup)")
	fs.StringVar(&c.KeyFile, "key-file", c.KeyFile, "Payload sealing key file")
}

// LoadClient builds a Client from args, the environment and an optional
// -config JSON file.
func LoadClient(name string, args []string) (*Client, error) {
	cfg := DefaultClient()
	path, err := configPath(name, args, func(fs *flag.FlagSet) {
		scratch := DefaultClient()
		scratch.bind(fs)
	})
	if err != nil {
		return nil, err
	}
	if path != "" {
		v, err := readJSON(path)
		if err != nil {
			return nil, err
		}
		cfg.applyJSON(v)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", path, "JSON config file")
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCollector builds a Collector the same way.
func LoadCollector(name string, args []string) (*Collector, error) {
	cfg := DefaultCollector()
	path, err := configPath(name, args, func(fs *flag.FlagSet) {
		scratch := DefaultCollector()
		scratch.bind(fs)
	})
	if err != nil {
		return nil, err
	}
	if path != "" {
		v, err := readJSON(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.applyJSON(v); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", path, "JSON config file")
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the client settings.
func (c *Client) Validate() error {
	if c.MinutesWait <= 0 {
		return fmt.Errorf("minutes must be positive, got %d", c.MinutesWait)
	}
	if c.FileName == "" || filepath.Base(c.FileName) != c.FileName {
		return fmt.Errorf("invalid log file name %q", c.FileName)
	}
	if c.ServerURL != "" && c.GCSBucket != "" {
		return errors.New("set either a collector URL or a GCS bucket, not both")
	}
	if !c.Debug && c.ServerURL == "" && c.GCSBucket == "" {
		return errors.New("an upload target is required outside debug mode")
	}
	return nil
}

// Validate checks the collector settings.
func (c *Collector) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DataDir == "" {
		return errors.New("data dir is required")
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %v", c.Retention)
	}
	return nil
}

func (c *Client) applyJSON(v *fastjson.Value) {
	setString(&c.Dir, v, "dir")
	setString(&c.FileName, v, "file_name")
	if v.Exists("minutes_wait") {
		c.MinutesWait = v.GetInt("minutes_wait")
	}
	if v.Exists("debug") {
		c.Debug = v.GetBool("debug")
	}
	setString(&c.AppName, v, "app_name")
	setString(&c.ServerURL, v, "server_url")
	setString(&c.APIKey, v, "api_key")
	setString(&c.KeyFile, v, "key_file")
	setString(&c.GCSBucket, v, "gcs", "bucket")
	setString(&c.GCSPrefix, v, "gcs", "prefix")
	setString(&c.GCSKeyFile, v, "gcs", "key_file")
}

func (c *Collector) applyJSON(v *fastjson.Value) error {
	if v.Exists("port") {
		c.Port = v.GetInt("port")
	}
	setString(&c.DataDir, v, "data_dir")
	if v.Exists("retention") {
		d, err := time.ParseDuration(string(v.GetStringBytes("retention")))
		if err != nil {
			return fmt.Errorf("invalid retention: %w", err)
		}
		c.Retention = d
	}
	setString(&c.APIKeyHash, v, "api_key_hash")
	setString(&c.APIKey, v, "api_key")
	setString(&c.KeyFile, v, "key_file")
	return nil
}

func (c *Client) applyEnv() error {
	var err error
	c.Dir = getenv("CRASHLOG_DIR", c.Dir)
	c.FileName = getenv("CRASHLOG_FILE", c.FileName)
	if c.MinutesWait, err = getInt("CRASHLOG_MINUTES", c.MinutesWait); err != nil {
		return err
	}
	if c.Debug, err = getBool("CRASHLOG_DEBUG", c.Debug); err != nil {
		return err
	}
	c.AppName = getenv("CRASHLOG_APP", c.AppName)
	c.ServerURL = getenv("CRASHLOG_SERVER", c.ServerURL)
	c.APIKey = getenv("CRASHLOG_API_KEY", c.APIKey)
	c.KeyFile = getenv("CRASHLOG_KEY_FILE", c.KeyFile)
	c.GCSBucket = getenv("CRASHLOG_GCS_BUCKET", c.GCSBucket)
	c.GCSPrefix = getenv("CRASHLOG_GCS_PREFIX", c.GCSPrefix)
	c.GCSKeyFile = getenv("CRASHLOG_GCS_KEY", c.GCSKeyFile)
	return nil
}

func (c *Collector) applyEnv() error {
	var err error
	if c.Port, err = getInt("CRASHLOG_PORT", c.Port); err != nil {
		return err
	}
	c.DataDir = getenv("CRASHLOG_DATA", c.DataDir)
	if val := getenv("CRASHLOG_RETENTION", ""); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid CRASHLOG_RETENTION: %w", err)
		}
		c.Retention = d
	}
	c.APIKeyHash = getenv("CRASHLOG_API_KEY_HASH", c.APIKeyHash)
	c.APIKey = getenv("CRASHLOG_API_KEY", c.APIKey)
	c.KeyFile = getenv("CRASHLOG_KEY_FILE", c.KeyFile)
	return nil
}

// configPath does a first flag pass to find -config. bind registers the
// remaining flags on throwaway values so parsing does not fail on them.
func configPath(name string, args []string, bind func(fs *flag.FlagSet)) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("config", getenv("CRASHLOG_CONFIG", ""), "JSON config file")
	bind(fs)
	if err := fs.Parse(args); err != nil && !errors.Is(err, flag.ErrHelp) {
		return "", err
	}
	return *path, nil
}

func readJSON(path string) (*fastjson.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("config %s: top level must be an object", path)
	}
	return v, nil
}

func setString(dst *string, v *fastjson.Value, keys ...string) {
	if v.Exists(keys...) {
		*dst = string(v.GetStringBytes(keys...))
	}
}

func getenv(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getInt(key string, def int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getBool(key string, def bool) (bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
