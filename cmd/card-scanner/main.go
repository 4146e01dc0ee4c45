package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/redis/go-redis/v9"

	"github.com/zombor/card-scanner/internal/cardscan"
	"github.com/zombor/card-scanner/internal/imagecache"
	"github.com/zombor/card-scanner/internal/pricing"
	"github.com/zombor/card-scanner/internal/ratelimit"
	"github.com/zombor/card-scanner/internal/resolution"
	"github.com/zombor/card-scanner/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("card-scanner")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		publicURL      = fs.StringLong("public-url", "http://localhost:8080", "Externally reachable base URL, used for locally stored image URLs")
		redisURL       = fs.StringLong("redis-url", "redis://localhost:6379/0", "Redis URL for the scan limiter and caches")
		indexType      = fs.StringLong("index", "bolt", "Image index: 'bolt' or 'mongo'")
		dbPath         = fs.StringLong("db", "card-scanner.db", "Bolt index file path")
		mongoURI       = fs.StringLong("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
		mongoDB        = fs.StringLong("mongo-db", "cards", "MongoDB database name")
		storageType    = fs.StringLong("storage", "local", "Image storage: 'local' or 'minio'")
		storagePath    = fs.StringLong("storage-path", "./images", "Local storage directory path")
		minioEndpoint  = fs.StringLong("minio-endpoint", "localhost:9000", "MinIO/S3 endpoint")
		minioAccessKey = fs.StringLong("minio-access-key", "", "MinIO/S3 access key")
		minioSecretKey = fs.StringLong("minio-secret-key", "", "MinIO/S3 secret key")
		minioBucket    = fs.StringLong("minio-bucket", "card-images", "MinIO/S3 bucket")
		minioSSL       = fs.BoolLong("minio-ssl", "Use TLS for MinIO/S3")
		minioRegion    = fs.StringLong("minio-region", "", "MinIO/S3 region (discovered from the bucket when empty)")
		minioPublicURL = fs.StringLong("minio-public-url", "", "Public base URL for bucket objects (defaults to the endpoint)")
		identifiers    = fs.StringLong("identifier", "gemini", "Comma separated identifiers tried in order: 'gemini', 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2.5vl)")
		pricingURLs    = fs.StringLong("pricing-url", "", "Comma separated pricing catalog base URLs, first answer wins")
		pricingKey     = fs.StringLong("pricing-key", "", "Pricing catalog API key")
		priceCacheTTL  = fs.DurationLong("price-cache-ttl", pricing.DefaultCacheTTL, "How long prices are cached")
		resultTTL      = fs.DurationLong("result-cache-ttl", cardscan.DefaultResultTTL, "How long scan results are reused for the same photo")
		scanLimit      = fs.IntLong("scan-limit", ratelimit.DefaultLimit, "Scans allowed per user per window")
		scanWindow     = fs.DurationLong("scan-window", ratelimit.DefaultWindow, "Scan limit window")
		maxImageMB     = fs.IntLong("max-image-mb", 15, "Largest accepted photo in MB")
		natsURL        = fs.StringLong("nats-url", "", "NATS URL for scan and commit events (optional)")
		natsToken      = fs.StringLong("nats-token", "", "NATS auth token (optional)")
		jwtSecret      = fs.StringLong("jwt-secret", "", "HS256 secret; when set every API call needs a bearer token")
		trustProxy     = fs.BoolLong("trust-proxy", "Use X-Forwarded-For as the client address")
		backfill       = fs.BoolLong("backfill", "Index images already in storage, then exit")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CARD_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize image index
	slog.Info("Initializing image index...", "type", *indexType)
	var index imagecache.Index
	var err error
	switch *indexType {
	case "bolt":
		index, err = imagecache.NewBoltIndex(*dbPath)
	case "mongo":
		index, err = imagecache.NewMongoIndex(ctx, *mongoURI, *mongoDB, "card_images")
	default:
		err = fmt.Errorf("invalid index type %q, want bolt or mongo", *indexType)
	}
	if err != nil {
		slog.Error("Failed to initialize image index", "error", err)
		os.Exit(1)
	}
	defer index.Close()

	// Initialize image storage
	slog.Info("Initializing storage...", "type", *storageType)
	var storage imagecache.Storage
	var localStorage *imagecache.LocalStorage
	switch *storageType {
	case "local":
		localStorage, err = imagecache.NewLocalStorage(*storagePath, *publicURL)
		storage = localStorage
	case "minio":
		storage, err = imagecache.NewMinIOStorage(ctx, imagecache.MinIOConfig{
			Endpoint:  *minioEndpoint,
			AccessKey: *minioAccessKey,
			SecretKey: *minioSecretKey,
			Bucket:    *minioBucket,
			UseSSL:    *minioSSL,
			Region:    *minioRegion,
			PublicURL: *minioPublicURL,
		})
	default:
		err = fmt.Errorf("invalid storage type %q, want local or minio", *storageType)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	images := imagecache.NewStore(index, storage)

	if *backfill {
		added, err := images.Backfill(ctx)
		if err != nil {
			slog.Error("Backfill failed", "added", added, "error", err)
			os.Exit(1)
		}
		slog.Info("Backfill complete", "added", added)
		return
	}

	// Initialize Redis
	redisOpts, err := redis.ParseURL(*redisURL)
	if err != nil {
		slog.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Initialize identifiers
	identifier, err := newIdentifier(*identifiers, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize identifier", "error", err)
		os.Exit(1)
	}
	defer identifier.Close()

	// Initialize pricing
	var pricer pricing.Resolver
	var resolvers []pricing.Resolver
	for _, base := range splitList(*pricingURLs) {
		client, err := pricing.New(base, pricing.WithAPIKey(*pricingKey))
		if err != nil {
			slog.Error("Failed to initialize pricing client", "url", base, "error", err)
			os.Exit(1)
		}
		resolvers = append(resolvers, client)
	}
	if len(resolvers) > 0 {
		pricer = pricing.NewCached(pricing.NewChain(resolvers...), rdb, "", *priceCacheTTL)
	} else {
		slog.Warn("No pricing catalog configured, scans will be unpriced")
	}

	// Initialize events
	var publisher cardscan.Publisher = cardscan.NopPublisher{}
	if *natsURL != "" {
		natsPublisher, err := cardscan.NewNATSPublisher(*natsURL, *natsToken)
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		publisher = natsPublisher
	}
	defer publisher.Close()

	service := cardscan.NewService(cardscan.Deps{
		Limiter:    ratelimit.NewRedis(rdb, "", ratelimit.Policy{Limit: *scanLimit, Window: *scanWindow}),
		Identifier: identifier,
		Engine:     resolution.NewEngine(pricer),
		Images:     images,
		Results:    cardscan.NewRedisResultCache(rdb, "", *resultTTL),
		Publisher:  publisher,
	})

	cfg := cardscan.Config{
		JWTSecret:     *jwtSecret,
		TrustProxy:    *trustProxy,
		MaxImageBytes: int64(*maxImageMB) << 20,
	}
	if localStorage != nil {
		cfg.Objects = localStorage
	}
	server := cardscan.NewServer(service, cfg)

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *jwtSecret != "" {
		slog.Info("Bearer token auth enabled")
	}

	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down cleanly")
}

func newIdentifier(names, geminiKey, geminiModel, ollamaURL, ollamaModel string) (scanning.Identifier, error) {
	var identifiers []scanning.Identifier
	for _, name := range splitList(names) {
		switch name {
		case "gemini":
			// Get Gemini API key from flag or environment
			apiKey := geminiKey
			if apiKey == "" {
				apiKey = os.Getenv("GEMINI_API_KEY")
			}
			if apiKey == "" {
				return nil, fmt.Errorf("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
			}
			slog.Info("Initializing Gemini identifier...", "model", geminiModel)
			gemini, err := scanning.NewGemini(apiKey, geminiModel)
			if err != nil {
				return nil, fmt.Errorf("initializing gemini: %w", err)
			}
			identifiers = append(identifiers, gemini)
		case "ollama":
			slog.Info("Initializing Ollama identifier...", "url", ollamaURL, "model", ollamaModel)
			ollama, err := scanning.NewOllama(ollamaURL, ollamaModel)
			if err != nil {
				return nil, fmt.Errorf("initializing ollama: %w", err)
			}
			identifiers = append(identifiers, ollama)
		default:
			return nil, fmt.Errorf("invalid identifier %q, want gemini or ollama", name)
		}
	}

	switch len(identifiers) {
	case 0:
		return nil, fmt.Errorf("at least one identifier is required")
	case 1:
		return identifiers[0], nil
	}
	return scanning.NewChain(identifiers...), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
