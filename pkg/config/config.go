package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	WaitForServices   string   // duration to wait for other services to be ready
	LogLevel          string   // sets the log level (zap log level values)
	LogFormat         string   // text vs json
	LogFilter         string   // zapfilter rules, e.g. "debug:ddp* info:*"
	EnableTelemetry   bool     // enable telemetry
	TelemetryEndpoint string   // endpoint for telemetry (host:port or "stdout")
	ProfilingPort     int      // port for profiling
	NatsURL           string   // NATS server url, empty disables the NATS publisher
	NatsSubjectPrefix string   // subject prefix for published snapshots
	NatsBucket        string   // JetStream KV bucket holding the latest snapshots
	RedisURL          string   // Redis url, empty disables the Redis publisher
	RedisTTL          string   // expiry of the latest snapshot in Redis
	APIAddr           string   // listen addr for the HTTP API (insecure)
	TLSServerAddr     string   // listen addr for the HTTP API (tls)
	TLSCertFile       string   // path to TLS certificate
	TLSKeyFile        string   // path to TLS key
	TraefikCerts      string   // path to traefik certs file
	TraefikCertDomain string   // the domain to lookup within the traefik certs
	AllowedOrigins    []string // CORS origins, empty allows all
	Series            []string // enabled series
	PollInterval      string   // poll interval for NASCAR and IndyCar
	InactiveFactor    int      // poll interval multiplier while no session is live
	PublishInterval   string   // min duration between two snapshots of a socket series
	NascarSeriesID    int      // 1 Cup, 2 Xfinity, 3 Truck
	NascarRaceID      int      // pinned NASCAR race, 0 resolves it from the schedule
	IndycarNXT        bool     // poll the INDY NXT documents
)
