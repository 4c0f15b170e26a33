package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"keywatch-server/internal/announce"
	"keywatch-server/internal/auth"
	"keywatch-server/internal/config"
	"keywatch-server/internal/hub"
	"keywatch-server/internal/server"
	"keywatch-server/internal/session"
	"keywatch-server/internal/store"
	"keywatch-server/internal/telemetry"
)

const sessionRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	cutoff := time.Now().Add(-sessionRetention).UnixMilli()
	if purged, err := st.PurgeBefore(context.Background(), cutoff); err != nil {
		log.Printf("startup purge failed: %v", err)
	} else if purged > 0 {
		log.Printf("purged %d expired sessions", purged)
	}

	var announcer announce.Announcer = announce.Noop{}
	if cfg.WebhookURL != "" {
		announcer = announce.NewWebhook(cfg.WebhookURL)
	}

	wsHub := hub.New()
	manager := &session.Manager{
		Store:     st,
		Announcer: announcer,
		PublicURL: cfg.PublicURL,
	}
	svc := &telemetry.Service{
		Store:     st,
		Announcer: announcer,
		Hub:       wsHub,
		PublicURL: cfg.PublicURL,
	}

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "keywatch-server",
	}

	router := server.NewRouter(server.Deps{
		Store:        st,
		Hub:          wsHub,
		Manager:      manager,
		Telemetry:    svc,
		APISecret:    cfg.APISecret,
		MasterSecret: cfg.MasterSecret,
		TokenConfig:  tokenCfg,
	})
	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	log.Fatal(server.Run(cfg, router))
}
