package sealclient

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"sealedmsg/internal/blob"
	"sealedmsg/internal/config"
	"sealedmsg/internal/content"
	"sealedmsg/internal/httpx"
	"sealedmsg/internal/jwtsigner"
	"sealedmsg/internal/ledger"
	"sealedmsg/internal/mapping"
	"sealedmsg/internal/oracle"
	"sealedmsg/internal/poll"
	"sealedmsg/internal/preview"
	"sealedmsg/internal/registry"
	"sealedmsg/internal/session"
)

const mappingCacheSize = 1024

// Client bundles a sender and a receiver for one identity.
type Client struct {
	*Sender
	*Receiver
	Session *session.Manager
}

// IdentityPath is where the CLI keeps the signing identity.
func IdentityPath(cfg config.ClientConfig) string {
	return filepath.Join(cfg.StateDir, "identity.json")
}

func sessionPath(cfg config.ClientConfig) string {
	return filepath.Join(cfg.StateDir, "session.json")
}

// Dial wires a client against the services named in cfg. confirm, when set,
// is asked before a new decryption session is signed.
func Dial(ctx context.Context, cfg config.ClientConfig, id *jwtsigner.Signer, confirm func(context.Context, session.Authorization) error, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hc := httpx.NewHTTPClient(cfg.GatewayTimeout * 3)
	reg := registry.NewClient(cfg.RegistryURL, hc)
	gw := blob.NewGateway(cfg.Gateways, blob.WithTimeout(cfg.GatewayTimeout), blob.WithLogger(logger))

	var (
		uploader content.Uploader = reg
		searcher mapping.Searcher = reg
	)
	if cfg.Minio.Endpoint != "" {
		store, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		uploader, searcher = store, store
	}

	resolver := mapping.NewResolver(
		mapping.WithCache(mapping.NewCache(mappingCacheSize)),
		mapping.WithBackend(reg),
		mapping.WithProber(gw),
		mapping.WithSearcher(searcher),
		mapping.WithLogger(logger),
	)
	codec := content.NewCodec(uploader, gw, resolver, content.WithCollisionCheck(), content.WithLogger(logger))

	oc := oracle.NewClient(cfg.OracleURL, nil)
	oracleKey, scope, err := oc.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch oracle key: %w", err)
	}
	if cfg.Scope != "" && scope != cfg.Scope {
		return nil, fmt.Errorf("oracle serves scope %q, configured %q", scope, cfg.Scope)
	}

	mgr := session.NewManager(&session.JWTSigner{Signer: id, Confirm: confirm}, oc,
		session.WithStore(session.NewFileStore(sessionPath(cfg), logger)),
		session.WithScope(scope),
		session.WithDurationDays(cfg.SessionDays),
		session.WithLogger(logger),
	)
	previews := preview.NewPipeline(reg,
		preview.WithWatchPolicy(poll.Fixed(cfg.PollInterval, cfg.PreviewAttempts)),
		preview.WithLogger(logger),
	)

	sc := Config{
		Ledger:       ledger.NewClient(cfg.LedgerURL, id, hc),
		Codec:        codec,
		Decrypter:    mgr,
		Previews:     previews,
		OracleKey:    oracleKey,
		Scope:        scope,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	}
	return &Client{Sender: NewSender(sc), Receiver: NewReceiver(sc), Session: mgr}, nil
}
