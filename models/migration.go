package models

import (
	"log"

	"github.com/ecofhq/portal_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Document{}, &DocumentVersion{},
		&History{},
		&IntegrationQueueItem{},
		&AnalyticsType{}, &AnalyticsValue{}, &AnalyticsEvent{},
		&WebhookSubscription{}, &WebhookSubscriptionType{},
		&ResyncJob{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
