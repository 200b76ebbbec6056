package main

import (
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/config"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
