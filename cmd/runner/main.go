package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"trading-node-go/config"
	"trading-node-go/gateway"
	"trading-node-go/model"
	"trading-node-go/node"
	"trading-node-go/portfolio"
)

func main() {
	cfgPath := flag.String("config", "configs/node.yaml", "config file path")
	envFile := flag.String("env", "", ".env file with credentials, optional")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	n, err := node.New(cfg)
	if err != nil {
		log.Fatalf("build node: %v", err)
	}

	adapter := gateway.NewVenueAdapter(n.Logger().Component("gateway"), gateway.AdapterConfig{
		ClientID:  model.ClientID("VENUE-" + cfg.Gateway.Venue),
		Venue:     model.Venue(cfg.Gateway.Venue),
		AccountID: model.AccountID(cfg.TraderID + "-" + cfg.Gateway.Venue),
		WSURL:     cfg.Gateway.WSURL,
		RESTURL:   cfg.Gateway.RESTURL,
		APIKey:    cfg.Gateway.APIKey,
		APISecret: cfg.Gateway.APISecret,
		WS: gateway.WSConfig{
			HeartbeatInterval: time.Duration(cfg.Gateway.HeartbeatSecs) * time.Second,
			HeartbeatMsg:      `{"op":"ping"}`,
			ReadTimeout:       time.Duration(cfg.Gateway.ReadTimeoutSecs) * time.Second,
			WriteQueueSize:    cfg.Gateway.WriteQueueSize,
			Reconnect:         cfg.WSReconnect(),
		},
		OnData:       n.DataEngine().Process,
		OnOrderEvent: n.ExecEngine().Process,
		OnAccountState: func(state portfolio.AccountState) {
			if err := n.Cache().ApplyAccountState(state); err != nil {
				n.Logger().Warn("apply account state failed")
			}
		},
	})
	if err := n.AddDataClient(adapter); err != nil {
		log.Fatalf("register data client: %v", err)
	}
	if err := n.AddExecClient(adapter); err != nil {
		log.Fatalf("register exec client: %v", err)
	}

	watcher := config.NewWatcher(n.Logger().Component("config"), *cfgPath, 5*time.Second,
		func(next config.NodeConfig) {
			if err := n.ReloadPurgeConfig(next.CachePurge()); err != nil {
				n.Logger().Warn("purge config reload failed")
			}
			n.Logger().Info("config file changed; purge intervals applied, other sections need a restart")
		})
	if err := watcher.Start(); err != nil {
		n.Logger().Warn("config watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	if err := n.Run(context.Background()); err != nil {
		log.Fatalf("node: %v", err)
	}
}
