package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/guildticket/guildticket/internal/actor"
	"github.com/guildticket/guildticket/internal/app"
	"github.com/guildticket/guildticket/internal/guilds"
	"github.com/guildticket/guildticket/internal/tickets"
)

type seedConfig struct {
	GuildID   string `envconfig:"SEED_GUILD_ID" default:"100000000000000001"`
	OwnerID   string `envconfig:"SEED_OWNER_ID" default:"200000000000000001"`
	SupportID string `envconfig:"SEED_SUPPORT_ID" default:"200000000000000002"`
	MemberID  string `envconfig:"SEED_MEMBER_ID" default:"200000000000000003"`
}

func main() {
	var seed seedConfig
	if err := envconfig.Process("", &seed); err != nil {
		log.Fatalf("seed config: %v", err)
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	services, err := app.BuildServices(ctx, cfg, app.NewLogger(cfg), nil)
	if err != nil {
		log.Fatalf("init services: %v", err)
	}
	defer services.Close()

	fmt.Println("→ Seeding guild...")
	guild, err := services.Guilds.Register(ctx, guilds.Guild{
		ID:                seed.GuildID,
		OwnerDiscordID:    seed.OwnerID,
		MaxTicketsPerUser: 3,
	})
	if err != nil {
		log.Fatalf("seed guild: %v", err)
	}

	fmt.Println("→ Seeding default roles...")
	defaults, err := services.Roles.EnsureDefaultRoles(ctx, guild.ID)
	if err != nil {
		log.Fatalf("seed roles: %v", err)
	}

	owner := actor.DiscordUser{UserID: seed.OwnerID, GuildID: guild.ID}
	err = actor.Run(ctx, owner, func(ctx context.Context) error {
		for _, role := range defaults {
			if role.Name != "support" {
				continue
			}
			if _, err := services.Roles.AssignRole(ctx, role.ID, seed.SupportID); err != nil {
				return fmt.Errorf("assign support role: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("seed memberships: %v", err)
	}

	fmt.Println("→ Seeding sample ticket...")
	member := actor.DiscordUser{UserID: seed.MemberID, GuildID: guild.ID}
	err = actor.Run(ctx, member, func(ctx context.Context) error {
		_, err := services.Lifecycle.Create(ctx, tickets.CreateInput{
			GuildID:  guild.ID,
			OpenerID: seed.MemberID,
			Subject:  "Sample ticket",
		})
		return err
	})
	if err != nil {
		fmt.Println("  skipped sample ticket:", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}
