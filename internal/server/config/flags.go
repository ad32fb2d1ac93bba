package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/crawlupload/internal/flagx"
)

var knownFlags = []string{
	"-a", "-grpc", "-d", "-s", "-u", "-p", "-b", "-g", "-e",
	"-m", "-n", "-t", "-log", "-trace",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-grpc string  gRPC health bind address (e.g., ":50051")
//	-d string     PostgreSQL DSN
//	-s string     JWT HMAC secret key
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-m int        minimum multipart part size, bytes
//	-n int        maximum concurrent upload requests
//	-t int        shutdown timeout, seconds
//	-log string   log backend: json or zap
//	-trace        export spans to stdout
//
// os.Args is first filtered down to these flags with flagx.FilterArgs, so
// -c/-config and flags of other components do not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run HTTP server")
	fs.StringVar(&config.EndpointAddrGRPC, "grpc", config.EndpointAddrGRPC, "address and port to run gRPC health server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.Int64Var(&config.MinUploadPartSize, "m", config.MinUploadPartSize, "minimum multipart part size (bytes)")
	fs.Int64Var(&config.MaxConcurrentUploads, "n", config.MaxConcurrentUploads, "maximum concurrent uploads")
	shutdownTimeout := fs.Int("t", int(config.ShutdownTimeout.Seconds()), "shutdown timeout (in seconds)")

	fs.StringVar(&config.LogFormat, "log", config.LogFormat, "log backend: json or zap")
	fs.BoolVar(&config.TraceStdout, "trace", config.TraceStdout, "export traces to stdout")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ShutdownTimeout = time.Duration(*shutdownTimeout) * time.Second
}
