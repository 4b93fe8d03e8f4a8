package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"iorelay/internal/auth"
	"iorelay/internal/config"
	"iorelay/internal/server"
	"iorelay/internal/store"
)

func main() {
	logger := logrus.StandardLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)
	st := store.NewWithOptions(store.Options{MachinesStateFile: cfg.MachinesStateFile})

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "iorelay",
	}

	router := server.NewRouter(server.Deps{
		Store:       st,
		TokenConfig: tokenCfg,
		RealtimeCfg: cfg,
		Logger:      logger,
		Registry:    prometheus.DefaultRegisterer,
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	logger.Fatal(server.Run(cfg, router))
}
