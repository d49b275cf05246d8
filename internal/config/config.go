package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types

	"github.com/joho/godotenv" // godotenv loads a local .env file when present
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations
// and costs.
type Config struct {
	Env          string // application environment (e.g. "dev", "prod")
	Port         string // HTTP port to listen on
	DBUser       string // database username
	DBPass       string // database password (optional)
	DBHost       string // database host address
	DBPort       string // database port number
	DBName       string // database name
	JWTSecret    string // secret used to sign JWTs
	AccessTTLMin int    // access token time‑to‑live in minutes
	BcryptCost   int    // bcrypt cost for password hashing

	// M-Pesa Daraja gateway settings.  The sandbox base URL and the
	// well-known sandbox shortcode are used as defaults so the server can
	// start against the Safaricom sandbox without extra configuration.
	MpesaBaseURL        string // gateway base URL
	MpesaConsumerKey    string // OAuth consumer key
	MpesaConsumerSecret string // OAuth consumer secret
	MpesaShortCode      string // paybill / till number
	MpesaPasskey        string // Lipa Na M-Pesa online passkey
	MpesaCallbackURL    string // public URL Daraja posts STK results to

	GuestTokenTTLHours int    // lifetime of guest access tokens in redis
	PublicBaseURL      string // public URL of this API, embedded in ticket QR codes
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when it
// exists.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	_ = godotenv.Load() // absence of a .env file is not an error

	return Config{
		Env:          must("APP_ENV"),
		Port:         must("APP_PORT"),
		DBUser:       must("DB_USER"),
		DBPass:       os.Getenv("DB_PASS"), // empty allowed
		DBHost:       must("DB_HOST"),
		DBPort:       must("DB_PORT"),
		DBName:       must("DB_NAME"),
		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: mustInt("ACCESS_TOKEN_TTL_MIN"),
		BcryptCost:   mustInt("BCRYPT_COST"),

		MpesaBaseURL:        getenv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		MpesaConsumerKey:    must("MPESA_CONSUMER_KEY"),
		MpesaConsumerSecret: must("MPESA_CONSUMER_SECRET"),
		MpesaShortCode:      getenv("MPESA_SHORTCODE", "174379"),
		MpesaPasskey:        must("MPESA_PASSKEY"),
		MpesaCallbackURL:    must("MPESA_CALLBACK_URL"),

		GuestTokenTTLHours: atoiDefault(os.Getenv("GUEST_TOKEN_TTL_HOURS"), 24),
		PublicBaseURL:      getenv("PUBLIC_BASE_URL", "http://localhost:"+must("APP_PORT")),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// getenv returns the value of an optional environment variable or the
// provided default when it is unset or empty.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// atoiDefault converts s to an int, falling back to def on empty or
// malformed input.
func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
