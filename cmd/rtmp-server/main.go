package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/go-rtmp/internal/config"
	"github.com/alxayo/go-rtmp/internal/logger"
	srv "github.com/alxayo/go-rtmp/internal/rtmp/server"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// flag package already printed usage/error
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	// Initialize global logger and set level based on flag
	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	srvCfg := srv.Config{
		ListenAddr:        cfg.listenAddr,
		ChunkSize:         uint32(cfg.chunkSize),
		WindowAckSize:     2_500_000, // matches control burst constant
		RecordAll:         cfg.recordAll,
		RecordDir:         cfg.recordDir,
		LogLevel:          cfg.logLevel,
		RelayDestinations: cfg.relayDestinations,
		HookScripts:       cfg.hookScripts,
		HookWebhooks:      cfg.hookWebhooks,
		HookStdioFormat:   cfg.hookStdioFormat,
		HookTimeout:       cfg.hookTimeout,
		HookConcurrency:   cfg.hookConcurrency,
		WSFLVEnabled:      cfg.wsFLVEnabled,
		WSFLVListenAddr:   cfg.wsFLVListenAddr,
	}

	if cfg.configPath != "" {
		fileCfg, err := config.Load(cfg.configPath)
		if err != nil {
			log.Error("failed to load config file", "path", cfg.configPath, "error", err)
			os.Exit(1)
		}
		applyFileConfig(&srvCfg, fileCfg, cfg)
		if err := logger.SetLevel(srvCfg.LogLevel); err != nil {
			log.Warn("invalid log_level in config file, keeping current level", "log_level", srvCfg.LogLevel)
		}
	}

	server := srv.New(srvCfg)

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Perform shutdown in a separate goroutine in case it blocks; we just wait or force exit on timeout.
	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}

// applyFileConfig fills srvCfg from a loaded YAML file, but only for fields
// whose corresponding flag the user did not pass explicitly on the command
// line; an explicit flag always wins over the file.
func applyFileConfig(srvCfg *srv.Config, fileCfg *config.Config, cli *cliConfig) {
	if !cli.explicit["listen"] {
		srvCfg.ListenAddr = fileCfg.Server.ListenAddr
	}
	if !cli.explicit["chunk-size"] {
		srvCfg.ChunkSize = fileCfg.Server.ChunkSize
	}
	srvCfg.WindowAckSize = fileCfg.Server.WindowAckSize
	if !cli.explicit["record-all"] {
		srvCfg.RecordAll = fileCfg.Server.RecordAll
	}
	if !cli.explicit["record-dir"] {
		srvCfg.RecordDir = fileCfg.Server.RecordDir
	}
	if !cli.explicit["log-level"] {
		srvCfg.LogLevel = fileCfg.Server.LogLevel
	}
	if !cli.explicit["relay-to"] && len(fileCfg.Relay.Destinations) > 0 {
		srvCfg.RelayDestinations = fileCfg.Relay.Destinations
	}
	if !cli.explicit["hook-script"] && len(fileCfg.Hooks.Scripts) > 0 {
		srvCfg.HookScripts = fileCfg.Hooks.Scripts
	}
	if !cli.explicit["hook-webhook"] && len(fileCfg.Hooks.Webhooks) > 0 {
		srvCfg.HookWebhooks = fileCfg.Hooks.Webhooks
	}
	if !cli.explicit["hook-stdio-format"] {
		srvCfg.HookStdioFormat = fileCfg.Hooks.StdioFormat
	}
	if !cli.explicit["hook-timeout"] {
		srvCfg.HookTimeout = fileCfg.Hooks.Timeout
	}
	if !cli.explicit["hook-concurrency"] {
		srvCfg.HookConcurrency = fileCfg.Hooks.Concurrency
	}
	if !cli.explicit["ws-flv"] {
		srvCfg.WSFLVEnabled = fileCfg.WSFLV.Enabled
	}
	if !cli.explicit["ws-flv-addr"] && fileCfg.WSFLV.ListenAddr != "" {
		srvCfg.WSFLVListenAddr = fileCfg.WSFLV.ListenAddr
	}
}
