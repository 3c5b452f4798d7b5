// Package config は環境変数・.envファイル・TOMLファイルから設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// メッセージソースの種類
const (
	SourceDiscord  = "discord"
	SourcePostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Source
	Source        string
	DiscordToken  string
	ChannelIDs    []string
	OldChannelIDs []string
	HistoryLimit  int

	// Database
	DatabaseURL          string
	ArchiveRetentionDays int

	// Output
	OutputDir       string
	StoryTitle      string
	SiteName        string
	AbsoluteURL     string
	FeedLimit       int
	DisplayTimezone *time.Location

	// Media
	MaxImageMB     int
	MaxVideoMB     int
	FetchTimeout   time.Duration
	MediaRateLimit float64

	// Segmentation
	JoinPageOffset   int
	CommandShiftFrom int
	AllowedAuthorIDs []string
	Shillwords       []string

	// Server
	ServerPort          string
	RegenerateInterval  time.Duration
	RateLimitRegenerate int

	// Logging
	LogLevel string
}

// MaxImageBytes は画像1件あたりのサイズ上限をバイトで返す。
func (c *Config) MaxImageBytes() int64 {
	return int64(c.MaxImageMB) << 20
}

// MaxVideoBytes は動画1件あたりのサイズ上限をバイトで返す。
func (c *Config) MaxVideoBytes() int64 {
	return int64(c.MaxVideoMB) << 20
}

// lookup は優先順位の高い順に設定値を探す。
// 環境変数、.envファイル、TOMLファイルの順。
type lookup struct {
	dotenv map[string]string
	file   map[string]any
}

// Load は設定を読み込む。
// 優先順位は 環境変数 > ENV_FILE（既定は .env） > CONFIG_FILE のTOML > 既定値。
// .envファイルはプロセスの環境変数を書き換えない。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	l := &lookup{}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
	}
	l.dotenv = dotenv

	if path := l.raw("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		if err := toml.Unmarshal(data, &l.file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := &Config{}
	var missing []string

	cfg.Source = strings.ToLower(l.getString("SOURCE", SourceDiscord))
	cfg.DiscordToken = l.getString("DISCORD_TOKEN", "")
	cfg.ChannelIDs = l.getList("CHANNEL_ID")
	cfg.OldChannelIDs = l.getList("OLD_CHANNEL_ID")
	cfg.DatabaseURL = l.getString("DATABASE_URL", "")

	if len(cfg.ChannelIDs) == 0 {
		missing = append(missing, "CHANNEL_ID")
	}
	switch cfg.Source {
	case SourceDiscord:
		if cfg.DiscordToken == "" {
			missing = append(missing, "DISCORD_TOKEN")
		}
	case SourcePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported SOURCE: %q", cfg.Source)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	tz := l.getString("DISPLAY_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", tz, err)
	}
	cfg.DisplayTimezone = loc

	// Optional fields with defaults
	cfg.HistoryLimit = l.getInt("HISTORY_LIMIT", 0)
	cfg.ArchiveRetentionDays = l.getInt("ARCHIVE_RETENTION_DAYS", 30)
	cfg.OutputDir = l.getString("OUTPUT_DIR", "site")
	cfg.StoryTitle = l.getString("STORY_TITLE", "Untitled Quest")
	cfg.SiteName = l.getString("SITE_NAME", "questmirror")
	cfg.AbsoluteURL = strings.TrimRight(l.getString("ABSOLUTE_URL", ""), "/")
	cfg.FeedLimit = l.getInt("FEED_LIMIT", 0)
	cfg.MaxImageMB = l.getInt("MAX_IMAGE_MB", 10)
	cfg.MaxVideoMB = l.getInt("MAX_VIDEO_MB", 100)
	cfg.FetchTimeout = l.getDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.MediaRateLimit = l.getFloat("MEDIA_RATE_LIMIT", 5)
	cfg.JoinPageOffset = l.getInt("JOIN_PAGE_OFFSET", 0)
	cfg.CommandShiftFrom = l.getInt("COMMAND_SHIFT_FROM", 0)
	cfg.AllowedAuthorIDs = l.getList("ALLOWED_AUTHOR_IDS")
	cfg.Shillwords = l.getList("SHILLWORDS")
	cfg.ServerPort = l.getString("SERVER_PORT", "8080")
	cfg.RegenerateInterval = l.getDuration("REGENERATE_INTERVAL", 0)
	cfg.RateLimitRegenerate = l.getInt("RATE_LIMIT_REGENERATE", 6)
	cfg.LogLevel = l.getString("LOG_LEVEL", "info")

	return cfg, nil
}

// raw は設定値を文字列で返す。見つからない場合は空文字列。
func (l *lookup) raw(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v := l.dotenv[key]; v != "" {
		return v
	}
	v, ok := l.file[strings.ToLower(key)]
	if !ok {
		return ""
	}
	if list, ok := v.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func (l *lookup) getString(key, defaultVal string) string {
	if v := l.raw(key); v != "" {
		return v
	}
	return defaultVal
}

func (l *lookup) getInt(key string, defaultVal int) int {
	v := l.raw(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (l *lookup) getFloat(key string, defaultVal float64) float64 {
	v := l.raw(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func (l *lookup) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := l.raw(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getList はカンマ区切りの値を空要素を除いたスライスで返す。
func (l *lookup) getList(key string) []string {
	var out []string
	for _, part := range strings.Split(l.raw(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
