package models

import (
	"log"

	"bitbucket.org/cvomotor/vehicles_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&FeedVehicle{}, &FeedFirstSeen{},
		&StockEntry{}, &PhotoTask{}, &IntakeRecord{}, &DeliveryRecord{},
		&Photographer{},
		&ReconciliationReport{}, &SyncEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
