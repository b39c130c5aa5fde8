package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"supporthub/pkg/database"
	"supporthub/pkg/logging"
)

// EnvPrefix is prepended to every environment key, e.g. SUPPORTHUB_HTTP_ADDR.
const EnvPrefix = "SUPPORTHUB"

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTDuration time.Duration
	// Admins maps admin username to bcrypt password hash.
	Admins map[string]string
}

type ServerConfig struct {
	HTTPAddr string
	// TCPAddr and GRPCAddr are optional listeners; empty disables them.
	TCPAddr        string
	GRPCAddr       string
	AllowedOrigins []string
}

type EngineConfig struct {
	// DocKey is the canonical document; regions are its partitions.
	DocKey      string
	SourcesFile string
	// SourceStore selects where community documents are read from:
	// "canonical" (the database) or "httpcsv".
	SourceStore       string
	SourceURLTemplate string
	SourceIDTemplate  string

	CacheTTL          time.Duration
	GateInterval      time.Duration
	GateCell          string
	RegionConcurrency int
	ReadConcurrency   int

	EnrichEnabled     bool
	EnrichConcurrency int
	FetchRPS          float64
	SocialDomain      string
	AvatarURLTemplate string
}

type Config struct {
	ConfigFile string
	Server     ServerConfig
	Engine     EngineConfig
	Auth       AuthConfig
	Log        logging.Config
	DB         database.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("tcp.addr", "")
	v.SetDefault("grpc.addr", "")
	v.SetDefault("cors.allowed_origins", []string{".raisely.com", "youhaveour.support"})

	v.SetDefault("engine.doc_key", "main")
	v.SetDefault("engine.sources_file", "config/sources.yaml")
	v.SetDefault("engine.source_store", "canonical")
	v.SetDefault("engine.source_url_template", "http://localhost:9000/sheets/{key}?sheet={title}")
	v.SetDefault("engine.source_id_template", "https://docs.google.com/spreadsheets/d/%s/edit")
	v.SetDefault("engine.cache_ttl", 30*time.Minute)
	v.SetDefault("engine.gate_interval", 30*time.Minute)
	v.SetDefault("engine.gate_cell", "B20")
	v.SetDefault("engine.region_concurrency", 1)
	v.SetDefault("engine.read_concurrency", 2)

	v.SetDefault("enrich.enabled", true)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.fetch_rps", 5.0)
	v.SetDefault("enrich.social_domain", "twitter.com")
	v.SetDefault("enrich.avatar_url_template", "https://unavatar.io/twitter/{handle}")

	v.SetDefault("jwt.secret", "dev-secret-change-me")
	v.SetDefault("jwt.issuer", "supporthub")
	v.SetDefault("jwt.ttl", 24*time.Hour)

	lc := logging.DefaultConfig()
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.format", lc.Format)
	v.SetDefault("log.output", lc.Output)
	v.SetDefault("log.max_size_mb", lc.MaxSizeMB)
	v.SetDefault("log.max_backups", lc.MaxBackups)
}

// LoadConfig reads, lowest precedence first: defaults, the config file
// (configFile, or supporthub.yaml in . or ~/.supporthub), .env files and
// SUPPORTHUB_* environment variables.
func LoadConfig(configFile string) (*Config, error) {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("supporthub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.supporthub")
		}
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		ConfigFile: v.ConfigFileUsed(),
		Server: ServerConfig{
			HTTPAddr:       v.GetString("http.addr"),
			TCPAddr:        v.GetString("tcp.addr"),
			GRPCAddr:       v.GetString("grpc.addr"),
			AllowedOrigins: splitList(v.GetStringSlice("cors.allowed_origins")),
		},
		Engine: EngineConfig{
			DocKey:            v.GetString("engine.doc_key"),
			SourcesFile:       v.GetString("engine.sources_file"),
			SourceStore:       strings.ToLower(v.GetString("engine.source_store")),
			SourceURLTemplate: v.GetString("engine.source_url_template"),
			SourceIDTemplate:  v.GetString("engine.source_id_template"),
			CacheTTL:          v.GetDuration("engine.cache_ttl"),
			GateInterval:      v.GetDuration("engine.gate_interval"),
			GateCell:          v.GetString("engine.gate_cell"),
			RegionConcurrency: v.GetInt("engine.region_concurrency"),
			ReadConcurrency:   v.GetInt("engine.read_concurrency"),
			EnrichEnabled:     v.GetBool("enrich.enabled"),
			EnrichConcurrency: v.GetInt("enrich.concurrency"),
			FetchRPS:          v.GetFloat64("enrich.fetch_rps"),
			SocialDomain:      v.GetString("enrich.social_domain"),
			AvatarURLTemplate: v.GetString("enrich.avatar_url_template"),
		},
		Auth: loadAuth(v),
		Log: logging.Config{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
		},
		DB: loadDB(v),
	}
	return cfg, nil
}

func loadAuth(v *viper.Viper) AuthConfig {
	ac := AuthConfig{
		JWTSecret:   v.GetString("jwt.secret"),
		JWTIssuer:   v.GetString("jwt.issuer"),
		JWTDuration: v.GetDuration("jwt.ttl"),
		Admins:      v.GetStringMapString("admins"),
	}
	if ac.JWTDuration <= 0 {
		ac.JWTDuration = 24 * time.Hour
	}
	if ac.Admins == nil {
		ac.Admins = make(map[string]string)
	}
	// single admin from the environment, handy for containers
	if user, hash := v.GetString("admin.user"), v.GetString("admin.password_hash"); user != "" && hash != "" {
		ac.Admins[user] = hash
	}
	return ac
}

func loadDB(v *viper.Viper) database.Config {
	cfg := database.DefaultConfig()
	if d := v.GetString("db.driver"); d != "" {
		cfg.Driver = d
	}
	if p := v.GetString("db.path"); p != "" {
		cfg.Path = p
	}
	if dsn := v.GetString("db.dsn"); dsn != "" {
		cfg.DSN = dsn
		if v.GetString("db.driver") == "" {
			cfg.Driver = database.DriverPostgres
		}
	}
	return cfg
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
