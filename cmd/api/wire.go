//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"agora/api/internal/config"
)

func initRuntime(ctx context.Context, cfg config.Config) (*runtime, func(), error) {
	wire.Build(providerSet)
	return nil, nil, nil
}
