// Command vaultfs-mount mounts a CipherBox vault as a FUSE filesystem.
// Flag shape follows the teacher's cmd/noisefs-mount/main.go: a flat
// flag.String/flag.Bool block, no CLI framework.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cipherbox/vaultfs/pkg/config"
	"github.com/cipherbox/vaultfs/pkg/keyprovider"
	"github.com/cipherbox/vaultfs/pkg/objectstore/ipfsstore"
	"github.com/cipherbox/vaultfs/pkg/objectstore/ipnsresolve"
	"github.com/cipherbox/vaultfs/pkg/vaultfs"
	"github.com/cipherbox/vaultfs/pkg/vaultlog"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		mountPath  = flag.String("mount", "", "Mount point for the filesystem (overrides config)")
		volumeName = flag.String("volume", "", "Volume name (overrides config)")
		ipfsAPI    = flag.String("ipfs", "", "IPFS API endpoint (overrides config)")
		readOnly   = flag.Bool("readonly", false, "Mount as read-only (overrides config)")
		allowOther = flag.Bool("allow-other", false, "Allow other users to access (overrides config)")
		debug      = flag.Bool("debug", false, "Enable debug output (overrides config)")
		keygen     = flag.Bool("keygen", false, "Generate a new recipient keypair and exit")
		help       = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}
	if *keygen {
		runKeygen()
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := vaultlog.InitFromLevelFormatOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	logger := vaultlog.Global().WithComponent("vaultfs-mount")

	if *mountPath != "" {
		cfg.Mount.Path = *mountPath
	}
	if *volumeName != "" {
		cfg.Mount.VolumeName = *volumeName
	}
	if *ipfsAPI != "" {
		cfg.ObjectStore.APIEndpoint = *ipfsAPI
	}
	cfg.Mount.ReadOnly = *readOnly || cfg.Mount.ReadOnly
	cfg.Mount.AllowOther = *allowOther || cfg.Mount.AllowOther
	cfg.Mount.Debug = *debug || cfg.Mount.Debug

	if cfg.Mount.Path == "" {
		log.Fatal("mount path required (-mount or config mount.path)")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Mount.TempDir, 0o700); err != nil {
		log.Fatalf("failed to create write-buffer temp directory: %v", err)
	}

	store, err := ipfsstore.New(cfg.ObjectStore.APIEndpoint)
	if err != nil {
		log.Fatalf("failed to connect to object store: %v", err)
	}
	resolver := ipnsresolve.New(store.Shell())

	keys, err := buildKeyProvider(cfg.KeyProvider)
	if err != nil {
		log.Fatalf("failed to build key provider: %v", err)
	}

	fsys := vaultfs.New(store, resolver, keys, cfg.Mount.TempDir, cfg.Mount.ReadOnly)

	rootFolderKey, err := hex.DecodeString(cfg.KeyProvider.RootFolderKeyHex)
	if err != nil {
		log.Fatalf("invalid root folder key: %v", err)
	}
	var rootSigningSeed []byte
	if cfg.KeyProvider.RootSigningSeedHex != "" {
		rootSigningSeed, err = hex.DecodeString(cfg.KeyProvider.RootSigningSeedHex)
		if err != nil {
			log.Fatalf("invalid root signing seed: %v", err)
		}
	}

	logger.WithField("mount_path", cfg.Mount.Path).Info("bootstrapping vault")
	if err := fsys.Bootstrap(context.Background(), cfg.KeyProvider.RootIPNSName, rootFolderKey, rootSigningSeed); err != nil {
		log.Fatalf("failed to bootstrap vault: %v", err)
	}

	logger.WithField("mount_path", cfg.Mount.Path).Info("mounting")
	if err := vaultfs.Mount(cfg.Mount.Path, fsys, cfg.Mount.Debug); err != nil {
		log.Fatalf("mount failed: %v", err)
	}
}

func buildKeyProvider(kc config.KeyProviderConfig) (keyprovider.Provider, error) {
	switch kc.Mode {
	case config.ModeStatic:
		priv, err := hex.DecodeString(kc.StaticPrivateHex)
		if err != nil {
			return nil, fmt.Errorf("decoding static private key: %w", err)
		}
		pub, err := hex.DecodeString(kc.StaticPublicHex)
		if err != nil {
			return nil, fmt.Errorf("decoding static public key: %w", err)
		}
		return keyprovider.NewStaticProvider(priv, pub)
	case config.ModePassphraseEnv:
		passphrase := os.Getenv(kc.PassphraseEnvVar)
		if passphrase == "" {
			return nil, fmt.Errorf("environment variable %s is empty", kc.PassphraseEnvVar)
		}
		return keyprovider.NewPassphraseProvider([]byte(passphrase))
	default:
		return keyprovider.PromptPassphraseProvider("Vault passphrase: ")
	}
}

func runKeygen() {
	provider, err := keyprovider.PromptPassphraseProvider("New vault passphrase: ")
	if err != nil {
		log.Fatalf("keygen failed: %v", err)
	}
	pub, err := provider.PublicKey()
	if err != nil {
		log.Fatalf("keygen failed: %v", err)
	}
	fmt.Printf("recipient_public_key_hex = %s\n", hex.EncodeToString(pub))
}

func showHelp() {
	fmt.Println("vaultfs-mount mounts a CipherBox vault as a FUSE filesystem.")
	flag.PrintDefaults()
}
