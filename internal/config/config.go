package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

const (
	defaultCoinGeckoURL  = "https://api.coingecko.com/api/v3"
	defaultDefiLlamaURL  = "https://api.llama.fi"
	defaultSolanaRPCURL  = "https://api.mainnet-beta.solana.com"
	defaultBlockscoutSet = "ethereum=https://eth.blockscout.com,base=https://base.blockscout.com,arbitrum=https://arbitrum.blockscout.com,optimism=https://optimism.blockscout.com"
)

type Config struct {
	HTTPPort    int
	LogLevel    string
	APIKey      string
	DatabaseURL string
	RedisURL    string

	CoinGeckoBaseURL   string
	CoinGeckoAPIKey    string
	DefiLlamaBaseURL   string
	TwitterBearerToken string
	SocialSource       string
	BlockscoutURLs     map[string]string
	SolanaRPCURL       string
	NewsFeeds          []string

	ProviderTimeoutSecs   int
	FetchMaxRetries       int
	FetchInitialBackoffMs int

	MarketCacheTTLSecs   int
	ProtocolCacheTTLSecs int
	SocialCacheTTLSecs   int
	OnChainCacheTTLSecs  int
	CacheSweepSecs       int

	OpenAIAPIKey      string
	OpenAIModel       string
	AdvisorMaxHistory int

	TelegramBotToken string

	Watchlist           []string
	RefreshIntervalSecs int

	MCPTransport          string
	MCPHTTPEnabled        bool
	MCPHTTPBind           string
	MCPHTTPPort           int
	MCPAuthToken          string
	MCPRequestTimeoutSecs int

	SSHHost        string
	SSHPort        int
	SSHHostKeyPath string
}

func Load() *Config {
	cfg := &Config{
		LogLevel:           strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		APIKey:             strings.TrimSpace(os.Getenv("API_KEY")),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		CoinGeckoAPIKey:    strings.TrimSpace(os.Getenv("COINGECKO_API_KEY")),
		TwitterBearerToken: strings.TrimSpace(os.Getenv("TWITTER_BEARER_TOKEN")),
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		TelegramBotToken:   strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		MCPAuthToken:       strings.TrimSpace(os.Getenv("MCP_AUTH_TOKEN")),
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set, persistence disabled")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, shared cache disabled")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, chat replies will contain raw token context")
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}

	cfg.HTTPPort = positiveInt("HTTP_PORT", 8080)

	cfg.CoinGeckoBaseURL = stringOr("COINGECKO_BASE_URL", defaultCoinGeckoURL)
	cfg.DefiLlamaBaseURL = stringOr("DEFILLAMA_BASE_URL", defaultDefiLlamaURL)
	cfg.SolanaRPCURL = stringOr("SOLANA_RPC_URL", defaultSolanaRPCURL)
	cfg.BlockscoutURLs = parseChainURLs(stringOr("BLOCKSCOUT_URLS", defaultBlockscoutSet))
	cfg.NewsFeeds = splitList(os.Getenv("NEWS_FEEDS"), false)

	cfg.SocialSource = strings.ToLower(strings.TrimSpace(os.Getenv("SOCIAL_SOURCE")))
	switch cfg.SocialSource {
	case "twitter", "reddit":
	case "":
		cfg.SocialSource = "reddit"
		if cfg.TwitterBearerToken != "" {
			cfg.SocialSource = "twitter"
		}
	default:
		log.Printf("Warning: unsupported SOCIAL_SOURCE=%q, defaulting to reddit", cfg.SocialSource)
		cfg.SocialSource = "reddit"
	}
	if cfg.SocialSource == "twitter" && cfg.TwitterBearerToken == "" {
		log.Println("Warning: SOCIAL_SOURCE=twitter without TWITTER_BEARER_TOKEN, social data will be unavailable")
	}

	cfg.ProviderTimeoutSecs = positiveInt("PROVIDER_TIMEOUT_SECS", 10)
	cfg.FetchMaxRetries = nonNegativeInt("FETCH_MAX_RETRIES", 3)
	cfg.FetchInitialBackoffMs = positiveInt("FETCH_INITIAL_BACKOFF_MS", 1000)

	cfg.MarketCacheTTLSecs = positiveInt("MARKET_CACHE_TTL_SECS", 60)
	cfg.ProtocolCacheTTLSecs = positiveInt("PROTOCOL_CACHE_TTL_SECS", 300)
	cfg.SocialCacheTTLSecs = positiveInt("SOCIAL_CACHE_TTL_SECS", 180)
	cfg.OnChainCacheTTLSecs = positiveInt("ONCHAIN_CACHE_TTL_SECS", 300)
	cfg.CacheSweepSecs = nonNegativeInt("CACHE_SWEEP_SECS", 0)

	cfg.OpenAIModel = stringOr("OPENAI_MODEL", "gpt-4o-mini")
	cfg.AdvisorMaxHistory = positiveInt("ADVISOR_MAX_HISTORY", 20)

	cfg.Watchlist = splitList(os.Getenv("WATCHLIST"), true)
	cfg.RefreshIntervalSecs = positiveInt("REFRESH_INTERVAL_SECS", 300)

	cfg.MCPTransport = strings.ToLower(strings.TrimSpace(os.Getenv("MCP_TRANSPORT")))
	if cfg.MCPTransport == "" {
		cfg.MCPTransport = "stdio"
	}
	if cfg.MCPTransport != "stdio" && cfg.MCPTransport != "http" {
		log.Printf("Warning: unsupported MCP_TRANSPORT=%q, defaulting to stdio", cfg.MCPTransport)
		cfg.MCPTransport = "stdio"
	}
	cfg.MCPHTTPEnabled = strings.EqualFold(strings.TrimSpace(os.Getenv("MCP_HTTP_ENABLED")), "true")
	cfg.MCPHTTPBind = stringOr("MCP_HTTP_BIND", "127.0.0.1")
	cfg.MCPHTTPPort = positiveInt("MCP_HTTP_PORT", 8090)
	cfg.MCPRequestTimeoutSecs = positiveInt("MCP_REQUEST_TIMEOUT_SECS", 30)

	cfg.SSHHost = stringOr("SSH_HOST", "0.0.0.0")
	cfg.SSHPort = positiveInt("SSH_PORT", 23234)
	cfg.SSHHostKeyPath = stringOr("SSH_HOST_KEY_PATH", ".ssh/id_ed25519")


	return cfg
}

func stringOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func nonNegativeInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// splitList splits a comma separated value, dropping blanks and duplicates.
func splitList(raw string, upper bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if upper {
			part = strings.ToUpper(part)
		}
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}

// parseChainURLs reads "chain=url,chain=url". Malformed pairs are skipped.
func parseChainURLs(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		chain, u, ok := strings.Cut(strings.TrimSpace(pair), "=")
		chain = strings.ToLower(strings.TrimSpace(chain))
		u = strings.TrimSpace(u)
		if !ok || chain == "" || u == "" {
			continue
		}
		out[chain] = u
	}
	return out
}
