package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-ledger/internal/config"
	ledgerdb "ms-ledger/internal/ledger/db"
	"ms-ledger/internal/models"
)

// Development schema tool: rebuilds the ledger tables straight from the
// bun models and optionally seeds a sample event. Production schema
// changes go through the SQL migrations instead.
func main() {
	drop := flag.Bool("drop", false, "drop all ledger tables first")
	seed := flag.Bool("seed", false, "insert a sample event with items and discounts")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db := bun.NewDB(sqldb, pgdialect.New())

	if *drop {
		log.Println("Dropping tables...")
		if err := ledgerdb.DropTables(ctx, db); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
	}

	log.Println("Creating tables...")
	if err := ledgerdb.CreateTables(ctx, db); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	if *seed {
		log.Println("Seeding sample data...")
		if err := seedData(ctx, db); err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
	}

	log.Println("Done.")
}

func seedData(ctx context.Context, db *bun.DB) error {
	now := time.Now()
	registrationOpen := now.AddDate(0, -1, 0)
	registrationClose := now.AddDate(0, 3, 0)

	event := models.Event{
		ID:          uuid.NewString(),
		Name:        "Autumn Exchange",
		Slug:        "autumn-exchange",
		Currency:    "usd",
		CartTimeout: 15,
	}
	if _, err := db.NewInsert().Model(&event).Exec(ctx); err != nil {
		return err
	}

	weekendPass := models.Item{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		Name:        "Full Weekend Pass",
		Description: "All classes and dances",
	}
	saturdayDance := models.Item{
		ID:      uuid.NewString(),
		EventID: event.ID,
		Name:    "Saturday Dance",
	}
	if _, err := db.NewInsert().Model(&[]models.Item{weekendPass, saturdayDance}).Exec(ctx); err != nil {
		return err
	}

	earlyBird := models.ItemOption{
		ID:             uuid.NewString(),
		ItemID:         weekendPass.ID,
		Name:           "Early Bird",
		Price:          9500,
		TotalNumber:    100,
		AvailableStart: registrationOpen,
		AvailableEnd:   now.AddDate(0, 1, 0),
		Position:       1,
	}
	regular := models.ItemOption{
		ID:             uuid.NewString(),
		ItemID:         weekendPass.ID,
		Name:           "Regular",
		Price:          12000,
		AvailableStart: registrationOpen,
		AvailableEnd:   registrationClose,
		Position:       2,
	}
	danceOnly := models.ItemOption{
		ID:             uuid.NewString(),
		ItemID:         saturdayDance.ID,
		Name:           "At the Door",
		Price:          2500,
		AvailableStart: registrationOpen,
		AvailableEnd:   registrationClose,
		Position:       1,
	}
	options := []models.ItemOption{earlyBird, regular, danceOnly}
	if _, err := db.NewInsert().Model(&options).Exec(ctx); err != nil {
		return err
	}

	volunteer := models.Discount{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		Name:           "Volunteer",
		Code:           "VOLUNTEER",
		Type:           models.DiscountFlat,
		Amount:         2000,
		AvailableStart: registrationOpen,
		AvailableEnd:   registrationClose,
		MaxUses:        20,
	}
	student := models.Discount{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		Name:           "Student",
		Code:           "STUDENT",
		Type:           models.DiscountPercent,
		Amount:         25,
		AvailableStart: registrationOpen,
		AvailableEnd:   registrationClose,
	}
	if _, err := db.NewInsert().Model(&[]models.Discount{volunteer, student}).Exec(ctx); err != nil {
		return err
	}

	var eligible []models.DiscountOption
	for _, opt := range []models.ItemOption{earlyBird, regular} {
		eligible = append(eligible, models.DiscountOption{DiscountID: volunteer.ID, ItemOptionID: opt.ID})
	}
	for _, opt := range options {
		eligible = append(eligible, models.DiscountOption{DiscountID: student.ID, ItemOptionID: opt.ID})
	}
	if _, err := db.NewInsert().Model(&eligible).Exec(ctx); err != nil {
		return err
	}

	log.Printf("Seeded event %s (%s)", event.Name, event.ID)
	return nil
}
