package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// EnvPrefix is the prefix of environment variables that override
// configuration keys, e.g. STACKSAMPLER_POOL_CAPACITY for pool.capacity.
const EnvPrefix = "STACKSAMPLER"

// Load reads a YAML file over the defaults. ${VAR} and ${VAR:-fallback}
// references are replaced with environment values before parsing.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read config file").
			WithDetail("path", filePath)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal YAML")
	}
	return data, nil
}

// Save writes the configuration to a YAML file.
func Save(filePath string, c *Config) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file").
			WithDetail("path", filePath)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not rescanned.
func substituteEnvVars(content string) string {
	return envRef.ReplaceAllStringFunc(content, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok {
			return v
		}
		return m[2]
	})
}

// NewViper returns a viper instance that resolves keys from STACKSAMPLER_*
// environment variables. Callers bind CLI flags to it with BindPFlag.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

type overlay struct {
	key   string
	apply func(c *Config, v *viper.Viper, key string)
}

var overlays = []overlay{
	{"pool.capacity", func(c *Config, v *viper.Viper, k string) { c.Pool.Capacity = v.GetInt(k) }},
	{"collector.interval", func(c *Config, v *viper.Viper, k string) { c.Collector.Interval = v.GetDuration(k) }},
	{"collector.max_frames", func(c *Config, v *viper.Viper, k string) { c.Collector.MaxFrames = v.GetInt(k) }},
	{"collector.max_samples_per_tick", func(c *Config, v *viper.Viper, k string) { c.Collector.MaxSamplesPerTick = v.GetInt(k) }},
	{"collector.channel_size", func(c *Config, v *viper.Viper, k string) { c.Collector.ChannelSize = v.GetInt(k) }},
	{"exporter.batch_size", func(c *Config, v *viper.Viper, k string) { c.Exporter.BatchSize = v.GetInt(k) }},
	{"exporter.flush_interval", func(c *Config, v *viper.Viper, k string) { c.Exporter.FlushInterval = v.GetDuration(k) }},
	{"exporter.format", func(c *Config, v *viper.Viper, k string) { c.Exporter.Format = v.GetString(k) }},
	{"exporter.compression", func(c *Config, v *viper.Viper, k string) { c.Exporter.Compression = v.GetString(k) }},
	{"exporter.compression_level", func(c *Config, v *viper.Viper, k string) { c.Exporter.CompressionLevel = v.GetString(k) }},
	{"exporter.prefix", func(c *Config, v *viper.Viper, k string) { c.Exporter.Prefix = v.GetString(k) }},
	{"sink.type", func(c *Config, v *viper.Viper, k string) { c.Sink.Type = v.GetString(k) }},
	{"sink.file.directory", func(c *Config, v *viper.Viper, k string) { c.Sink.File.Directory = v.GetString(k) }},
	{"sink.s3.bucket", func(c *Config, v *viper.Viper, k string) { c.Sink.S3.Bucket = v.GetString(k) }},
	{"sink.s3.region", func(c *Config, v *viper.Viper, k string) { c.Sink.S3.Region = v.GetString(k) }},
	{"sink.gcs.bucket", func(c *Config, v *viper.Viper, k string) { c.Sink.GCS.Bucket = v.GetString(k) }},
	{"sink.gcs.credentials_file", func(c *Config, v *viper.Viper, k string) { c.Sink.GCS.CredentialsFile = v.GetString(k) }},
	{"sink.kafka.brokers", func(c *Config, v *viper.Viper, k string) { c.Sink.Kafka.Brokers = splitList(v.GetStringSlice(k)) }},
	{"sink.kafka.topic", func(c *Config, v *viper.Viper, k string) { c.Sink.Kafka.Topic = v.GetString(k) }},
	{"sink.postgres.dsn", func(c *Config, v *viper.Viper, k string) { c.Sink.Postgres.DSN = v.GetString(k) }},
	{"sink.postgres.table", func(c *Config, v *viper.Viper, k string) { c.Sink.Postgres.Table = v.GetString(k) }},
	{"logging.level", func(c *Config, v *viper.Viper, k string) { c.Logging.Level = v.GetString(k) }},
	{"logging.encoding", func(c *Config, v *viper.Viper, k string) { c.Logging.Encoding = v.GetString(k) }},
	{"metrics.enabled", func(c *Config, v *viper.Viper, k string) { c.Metrics.Enabled = v.GetBool(k) }},
	{"metrics.address", func(c *Config, v *viper.Viper, k string) { c.Metrics.Address = v.GetString(k) }},
	{"tracing.enabled", func(c *Config, v *viper.Viper, k string) { c.Tracing.Enabled = v.GetBool(k) }},
	{"tracing.metric_interval", func(c *Config, v *viper.Viper, k string) { c.Tracing.MetricInterval = v.GetDuration(k) }},
}

// OverlayKeys lists the configuration keys Overlay understands.
func OverlayKeys() []string {
	keys := make([]string, len(overlays))
	for i, o := range overlays {
		keys[i] = o.key
	}
	return keys
}

// Overlay copies every key that is set in v, through a bound flag or the
// environment, onto c.
func (c *Config) Overlay(v *viper.Viper) {
	for _, o := range overlays {
		if v.IsSet(o.key) {
			o.apply(c, v, o.key)
		}
	}
}

// splitList accepts both repeated values and a single comma separated value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
