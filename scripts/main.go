package main

import (
	"flag"
	"log"

	"github.com/flexprice/dunning/scripts/internal"
	"github.com/joho/godotenv"
)

type command struct {
	description string
	run         func() error
}

var commands = map[string]command{
	"import-retry-policies": {
		description: "Upsert retry policies from POLICY_CSV (DRY_RUN=true to validate only)",
		run:         internal.ImportRetryPoliciesFromFile,
	},
	"generate-admin-token": {
		description: "Print an admin API bearer token for ADMIN_USER_ID",
		run:         internal.GenerateAdminTokenFromEnv,
	},
}

func main() {
	cmdName := flag.String("cmd", "", "command to run")
	flag.Parse()

	// a missing .env is fine
	_ = godotenv.Load()

	cmd, ok := commands[*cmdName]
	if !ok {
		log.Println("available commands:")
		for name, c := range commands {
			log.Printf("  %s: %s", name, c.description)
		}
		log.Fatalf("unknown command %q", *cmdName)
	}

	if err := cmd.run(); err != nil {
		log.Fatalf("%s failed: %v", *cmdName, err)
	}
}
