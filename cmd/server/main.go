package main

import (
	"context"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/crawlupload/internal/server"
	"github.com/dmitrijs2005/crawlupload/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}

}
