// Package wire adapts the domain types in pkg/fsvalue, pkg/fsdoc and
// pkg/fsquery to and from the generated Firestore v1 wire messages, and
// dials the underlying gRPC connections those messages travel over.
package wire

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/firekit/pkg/log"
)

// DefaultEndpoint is the production Firestore gRPC endpoint.
const DefaultEndpoint = "firestore.googleapis.com:443"

// EmulatorHostEnv is the environment variable the Firestore emulator uses
// to redirect clients at a local, insecure endpoint.
const EmulatorHostEnv = "FIRESTORE_EMULATOR_HOST"

// FunctionTriggerEnv marks a process as running inside a Cloud Functions
// invocation; when set, fsclient.Client.GetDocument is issued under an
// implicit read-only transaction (spec §9 supplement).
const FunctionTriggerEnv = "FUNCTION_TRIGGER_TYPE"

// TokenProvider returns a bearer token for production Firestore calls. The
// core does not perform credential discovery itself; callers supply a
// provider backed by whatever ADC or service-account flow their
// environment uses.
type TokenProvider func(ctx context.Context) (string, error)

// DialOptions controls how Dial builds a single gRPC channel.
type DialOptions struct {
	Endpoint      string
	DatabasePath  string // projects/{p}/databases/{d}
	Emulator      bool
	TokenProvider TokenProvider
	DialOptions   []grpc.DialOption
}

// ResolveEmulator overrides Endpoint from FIRESTORE_EMULATOR_HOST when set,
// switching to an insecure channel. Mirrors the emulator detection the
// higher-level Google client SDKs perform.
func (o *DialOptions) ResolveEmulator() {
	if host := os.Getenv(EmulatorHostEnv); host != "" {
		o.Endpoint = host
		o.Emulator = true
	}
}

// IsCloudFunction reports whether the process is running inside a Cloud
// Functions invocation.
func IsCloudFunction() bool {
	return os.Getenv(FunctionTriggerEnv) != ""
}

// Dial opens one gRPC channel to Firestore, configured per spec §9's
// emulator and production-credential paths.
func Dial(ctx context.Context, opts DialOptions) (*grpc.ClientConn, error) {
	logger := log.WithComponent("wire")
	dialOpts := append([]grpc.DialOption{}, opts.DialOptions...)

	if opts.Emulator {
		logger.Warn().Str("endpoint", opts.Endpoint).Msg("connecting to firestore emulator")
		dialOpts = append(dialOpts,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithPerRPCCredentials(emulatorOwnerCreds{}),
		)
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
		if opts.TokenProvider != nil {
			dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(tokenCreds{provider: opts.TokenProvider}))
		}
	}

	conn, err := grpc.NewClient(opts.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", opts.Endpoint, err)
	}
	return conn, nil
}

// emulatorOwnerCreds injects the "Bearer owner" header the Firestore
// emulator requires in lieu of real credentials (spec §9 supplement).
type emulatorOwnerCreds struct{}

func (emulatorOwnerCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer owner"}, nil
}

func (emulatorOwnerCreds) RequireTransportSecurity() bool { return false }

// tokenCreds wraps a caller-supplied TokenProvider as per-RPC gRPC
// credentials for production (non-emulator) traffic.
type tokenCreds struct {
	provider TokenProvider
}

func (t tokenCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	tok, err := t.provider(ctx)
	if err != nil {
		return nil, fmt.Errorf("wire: token provider: %w", err)
	}
	return map[string]string{"authorization": "Bearer " + tok}, nil
}

func (tokenCreds) RequireTransportSecurity() bool { return true }

// DatabaseHeader builds the "google-cloud-resource-prefix" metadata value
// Firestore's unary and streaming RPCs require to route to the correct
// database (spec §9, grounded on teacher's interceptor.go header handling).
func DatabaseHeader(databasePath string) (string, string) {
	return "google-cloud-resource-prefix", databasePath
}
