// pimsctl runs single PIMS operations from the command line, mainly for
// checking connectivity and keyfile configuration before wiring the library
// into a batch job.
//
// Connection settings come from PIMS_* environment variables (see
// internal/platform/config); the operation and its inputs are arguments:
//
//	pimsctl info
//	pimsctl pseudonymize -source PatientID id1 id2 ...
//	pimsctl reidentify -source PatientID pseudo1 pseudo2 ...
//	pimsctl exists -source PatientID id1 id2 ...
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"pims/internal/platform/config"
	"pims/internal/platform/logger"
	"pims/pkg/auth"
	"pims/pkg/cache"
	"pims/pkg/domain"
	"pims/pkg/keyfile"
	pstrings "pims/pkg/platform/strings"
	"pims/pkg/transport"
	"pims/pkg/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pimsctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: pimsctl <info|pseudonymize|reidentify|exists> [-source <ValueType>] [values...]")
	}
	operation := os.Args[1]

	flags := flag.NewFlagSet(operation, flag.ExitOnError)
	source := flags.String("source", string(domain.PatientID), "value type of the listed values")
	if err := flags.Parse(os.Args[2:]); err != nil {
		return err
	}
	values := pstrings.DedupeAndTrim(flags.Args())

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	if cfg.ServerURL == "" {
		return fmt.Errorf("PIMS_URL is not set")
	}
	if cfg.KeyfileID == 0 {
		return fmt.Errorf("PIMS_KEYFILE_ID is not set")
	}

	tokens, err := tokenProvider(cfg)
	if err != nil {
		return err
	}
	session, err := transport.NewSession(cfg.ServerURL, tokens, transport.WithLogger(log))
	if err != nil {
		return err
	}
	client, err := wire.NewClient(session,
		wire.WithLogger(log), wire.WithConcurrency(cfg.Concurrency))
	if err != nil {
		return err
	}
	kf := keyfile.New(cfg.KeyfileID, client, keyfile.WithLogger(log))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	valueType, err := domain.ParseValueType(*source)
	if err != nil && operation != "info" {
		return err
	}

	switch operation {
	case "info":
		return printInfo(ctx, kf)
	case "pseudonymize":
		return pseudonymize(ctx, cfg, log, kf, valueType, values)
	case "reidentify":
		return reidentify(ctx, kf, valueType, values)
	case "exists":
		return exists(ctx, kf, valueType, values)
	default:
		return fmt.Errorf("unknown operation %q", operation)
	}
}

func tokenProvider(cfg config.Client) (auth.TokenProvider, error) {
	if cfg.Token != "" {
		return auth.StaticToken(cfg.Token), nil
	}
	certPEM, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return auth.NewClientCredentials(cfg.TenantID, cfg.ClientID, cfg.APIID, certPEM, keyPEM)
}

func printInfo(ctx context.Context, kf *keyfile.KeyFile) error {
	info, err := kf.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("keyfile #%d: %s\n", info.ID, info.Name)
	fmt.Printf("description: %s\n", info.Description)
	fmt.Printf("template:    %s\n", info.PseudonymTemplate)
	for _, member := range info.Members {
		fmt.Printf("member:      %s <%s>\n", member.User.DisplayName, member.User.Email)
	}
	return nil
}

func pseudonymize(ctx context.Context, cfg config.Client, log *slog.Logger, kf *keyfile.KeyFile, valueType domain.ValueType, values []string) error {
	identifiers := make([]domain.Identifier, len(values))
	for i, value := range values {
		identifiers[i] = domain.NewTypedIdentifier(valueType, value)
	}

	var keys []domain.Key
	var err error
	if cfg.RedisURL != "" {
		redis, cerr := cache.NewRedisClient(ctx, cfg.RedisURL)
		if cerr != nil {
			log.Warn("redis unavailable, running uncached", "error", cerr)
			keys, err = kf.Pseudonymize(ctx, identifiers)
		} else {
			defer redis.Close()
			keys, err = cache.New(kf, redis, kf.ID()).Pseudonymize(ctx, identifiers)
		}
	} else {
		keys, err = kf.Pseudonymize(ctx, identifiers)
	}
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Printf("%s\t%s\n", key.Identifier.Value, key.Pseudonym.Value)
	}
	return nil
}

func reidentify(ctx context.Context, kf *keyfile.KeyFile, valueType domain.ValueType, values []string) error {
	pseudonyms := make([]domain.Pseudonym, len(values))
	for i, value := range values {
		pseudonyms[i] = domain.NewTypedPseudonym(valueType, value)
	}
	keys, err := kf.Reidentify(ctx, pseudonyms)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Printf("%s\t%s\n", key.Pseudonym.Value, key.Identifier.Value)
	}
	return nil
}

func exists(ctx context.Context, kf *keyfile.KeyFile, valueType domain.ValueType, values []string) error {
	identifiers := make([]domain.Identifier, len(values))
	for i, value := range values {
		identifiers[i] = domain.NewTypedIdentifier(valueType, value)
	}
	result, err := kf.Exists(ctx, identifiers, nil)
	if err != nil {
		return err
	}
	for _, identifier := range identifiers {
		fmt.Printf("%s\t%t\n", identifier.Value, result.Identifiers[identifier])
	}
	return nil
}
