package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mikeboe/report-engine/pkg/chat"
	"github.com/mikeboe/report-engine/pkg/config"
	"github.com/mikeboe/report-engine/pkg/database"
	"github.com/mikeboe/report-engine/pkg/embeddings"
	"github.com/mikeboe/report-engine/pkg/server"
)

// gemini-embedding-001 output size.
const embeddingDimension = 3072

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required for the server")
	}

	ctx := context.Background()

	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.EnsureVectorExtension(ctx); err != nil {
		log.Fatalf("Failed to enable vector extension: %v", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	if err := db.CreateSourcesTable(ctx, cfg.CollectionName, embeddingDimension); err != nil {
		log.Fatalf("Failed to create sources table: %v", err)
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}

	chatSvc, err := chat.NewService(ctx, db, cfg)
	if err != nil {
		log.Fatalf("Failed to init chat service: %v", err)
	}

	tools := chat.NewCorpusToolset(db, embedder, cfg)
	svc := server.NewService(db, cfg)
	handler := server.NewHandler(svc, chatSvc, tools)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	handler.RegisterRoutes(r)

	fmt.Printf("Server starting on port %s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
