//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/sqlassistant/internal/bootstrap"
	"github.com/yanqian/sqlassistant/internal/domain/conversation"
	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
	"github.com/yanqian/sqlassistant/internal/infra/config"
	"github.com/yanqian/sqlassistant/internal/infra/inventorydb"
	httpiface "github.com/yanqian/sqlassistant/internal/interface/http"
	"github.com/yanqian/sqlassistant/pkg/logger"
)

func initializeApp() (*bootstrap.App, func(), error) {
	wire.Build(
		config.Load,
		logger.New,
		provideChatGPTClient,
		provideTokenCounter,
		provideEmbedder,
		provideExemplars,
		provideSnapshotStore,
		provideFewShotIndex,
		providePromptAssembler,
		provideInventoryConfig,
		provideInventoryDB,
		inventorydb.NewInspector,
		inventorydb.NewExecutor,
		provideSessionStore,
		conversation.NewService,
		provideAssistantConfig,
		provideAssistantService,
		wire.Bind(new(httpiface.ReadinessProbe), new(*fewshot.Index)),
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil, nil
}
