package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// External endpoints
	ProxyEndpoint     string // 空の場合はgofeedによる直接フェッチモード
	TranslateEndpoint string

	// Aggregation
	TargetLang         string
	CacheDuration      time.Duration
	MaxItemsPerFeed    int
	DescriptionMaxLen  int
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	RefreshInterval    time.Duration
	TranslateRate      float64 // 翻訳APIの呼び出しレート（req/sec）

	// Offline asset cache
	AssetCacheVersion string
	AssetManifest     []string

	// Sections
	SectionsFile string // 空の場合は埋め込みのデフォルト設定を使用

	// Rate Limit
	RateLimitGeneral int // req/min/IP

	// Server
	ServerPort string
	BaseURL    string
	WebRoot    string

	// CORS
	CORSAllowedOrigin string
}

// defaultTranslateEndpoint はGoogle翻訳の非公式gtxエンドポイント。
const defaultTranslateEndpoint = "https://translate.googleapis.com/translate_a/single"

// defaultAssetManifest はインストール時にプリキャッシュされる静的アセットのパス。
var defaultAssetManifest = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/app.js",
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AssetCacheVersion = os.Getenv("ASSET_CACHE_VERSION")
	if cfg.AssetCacheVersion == "" {
		missing = append(missing, "ASSET_CACHE_VERSION")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ProxyEndpoint = getEnvString("PROXY_ENDPOINT", "")
	cfg.TranslateEndpoint = getEnvString("TRANSLATE_ENDPOINT", defaultTranslateEndpoint)
	cfg.TargetLang = getEnvString("TARGET_LANG", "ru")
	cfg.CacheDuration = getEnvDuration("CACHE_DURATION", time.Hour)
	cfg.MaxItemsPerFeed = getEnvInt("MAX_ITEMS_PER_FEED", 10)
	cfg.DescriptionMaxLen = getEnvInt("DESCRIPTION_MAX_LEN", 300)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 5)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", time.Hour)
	cfg.TranslateRate = getEnvFloat("TRANSLATE_RATE", 5.0)
	cfg.AssetManifest = getEnvList("ASSET_MANIFEST", defaultAssetManifest)
	cfg.SectionsFile = getEnvString("SECTIONS_FILE", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.WebRoot = getEnvString("WEB_ROOT", "./web")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数をスライスに分解する。
// 空要素は除去する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
