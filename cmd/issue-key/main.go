package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"pool_gateway/internal/auth"
	"pool_gateway/internal/config"
	"pool_gateway/internal/models"
	"pool_gateway/internal/storage"
)

func main() {
	name := flag.String("name", "", "display name of the new owner")
	admin := flag.Bool("admin", false, "grant the admin role")
	quota := flag.Int("quota", 0, "daily request ceiling (default: DEFAULT_DAILY_QUOTA)")
	existing := flag.String("owner", "", "reissue the key of an existing owner ID instead of creating one")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	keys, err := auth.NewKeyIssuer(cfg.SecretKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to initialize key issuer: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		OwnerCacheSize:  10,
		OwnerCacheTTL:   time.Minute,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.RunMigrations(db); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	owners := storage.NewOwnerRepository(db)

	var owner *models.Owner
	if *existing != "" {
		id, err := uuid.Parse(*existing)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Invalid owner ID: %v\n", err)
			os.Exit(1)
		}
		owner, err = owners.GetByID(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to load owner: %v\n", err)
			os.Exit(1)
		}
	} else {
		if strings.TrimSpace(*name) == "" {
			fmt.Fprintf(os.Stderr, "ERROR: -name is required when creating an owner\n")
			os.Exit(1)
		}
		ceiling := *quota
		if ceiling <= 0 {
			ceiling = cfg.Quota.DefaultDaily
		}

		owner = &models.Owner{
			Name:       strings.TrimSpace(*name),
			DailyQuota: ceiling,
			IsAdmin:    *admin,
			IsActive:   true,
		}
		if err := owners.Create(ctx, owner); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to create owner: %v\n", err)
			os.Exit(1)
		}
	}

	key, err := keys.Issue(owner.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to issue key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Owner:       %s (%s)\n", owner.Name, owner.ID)
	fmt.Printf("Admin:       %v\n", owner.IsAdmin)
	fmt.Printf("Daily quota: %d\n", owner.DailyQuota)
	fmt.Printf("API key:     %s\n", key)
	fmt.Println("\nStore the key securely; it grants access as this owner.")
}
