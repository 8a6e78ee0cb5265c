package wire

import (
	"Crewline/internal/api"
	"Crewline/internal/api/config"
	"Crewline/internal/api/handler"
	"Crewline/internal/job"
	"Crewline/internal/pkg/cron"
	"Crewline/internal/pkg/docstore"
	"Crewline/internal/pkg/kafka"
	"Crewline/internal/pkg/linkpreview"
	"Crewline/internal/pkg/media"
	"Crewline/internal/repository"
	"Crewline/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router       *gin.Engine
	DB           *gorm.DB
	KafkaManager *kafka.ConsumerManager
	CronMgr      *cron.Manager
	ChatService  service.ChatService
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, newEngine func() media.Engine, cfg *config.Config) (*ApplicationContainer, error) {
	store := docstore.NewMongoStore(mongoDB)

	convRepo := repository.NewConversationRepo(store)
	msgRepo := repository.NewMessageRepo(store)
	callRepo := repository.NewCallRepo(store)
	empRepo := repository.NewEmployeeRepo(db)

	publisher := service.NewRedisPublisher()
	notifier, err := kafka.NewNotifyProducer(cfg)
	if err != nil {
		return nil, err
	}
	previewFetcher := linkpreview.NewFetcher(cfg.Preview)

	chatService := service.NewChatService(convRepo, msgRepo, empRepo, publisher, previewFetcher)
	receiptService := service.NewReceiptService(convRepo, msgRepo, publisher)
	registry := service.NewCallRegistry()
	callService := service.NewCallService(callRepo, convRepo, empRepo, chatService, publisher, notifier, registry, newEngine)
	attachmentService := service.NewAttachmentService()

	handlers := &api.HandlersGroup{
		ChatHandler:       handler.NewChatHandler(chatService, receiptService),
		CallHandler:       handler.NewCallHandler(callService),
		WsHandler:         handler.NewWsHandler(),
		AttachmentHandler: handler.NewAttachmentHandler(attachmentService),
	}

	router := api.SetupRouter(handlers)

	kafkaMgr, err := kafka.NewConsumerManager(cfg)
	if err != nil {
		return nil, err
	}

	cronMgr := cron.NewCronManager(job.NewCallJanitorJob(callRepo))

	return &ApplicationContainer{
		Router:       router,
		DB:           db,
		KafkaManager: kafkaMgr,
		CronMgr:      cronMgr,
		ChatService:  chatService,
	}, nil
}
