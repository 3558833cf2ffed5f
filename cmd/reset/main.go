// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command reset drops every table this provider owns, for rebuilding a
// development or test database from a clean schema. It connects using the
// same DB_* environment variables as the server and migrate commands and
// refuses to run unless ALLOW_RESET=true, since the target database comes
// from configuration rather than a command-line argument.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/opentrusty/idp/internal/config"
	"github.com/opentrusty/idp/internal/store/postgres"
)

func main() {
	if os.Getenv("ALLOW_RESET") != "true" {
		fmt.Println("refusing to reset: set ALLOW_RESET=true to confirm")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		fmt.Printf("Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	tables := []string{
		"provider_accounts",
		"credentials",
		"accounts",
		"oauth_state",
		"signing_keys",
		"refresh_tokens",
		"authorization_codes",
		"oauth_clients",
	}

	for _, table := range tables {
		if _, err := db.Pool().Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			fmt.Printf("Failed to drop %s: %v\n", table, err)
			os.Exit(1)
		}
		fmt.Printf("Dropped %s\n", table)
	}

	fmt.Println("Reset complete.")
}
