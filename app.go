package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"enrollment-service/internal/catalog"
	"enrollment-service/internal/config"
	"enrollment-service/internal/enrollments"
	"enrollment-service/internal/gateway"
	"enrollment-service/internal/orders"
	"enrollment-service/internal/purchase"
	"enrollment-service/internal/stores/kafka"
	"enrollment-service/internal/stores/mongo"
	"enrollment-service/internal/stores/postgres"
	"enrollment-service/pkg/logkey"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

// app holds the wired dependencies shared by serve and reconcile.
type app struct {
	db          *sql.DB
	mongoClient *mongodriver.Client
	kafka       *kafka.Conf

	orders   *orders.Conf
	writer   *enrollments.Writer
	purchase *purchase.Orchestrator
}

func setup(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	var err error

	if a.db, err = postgres.OpenDB(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if a.orders, err = orders.NewConf(a.db); err != nil {
		return nil, err
	}

	var mdb *mongodriver.Database
	if a.mongoClient, mdb, err = mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDB); err != nil {
		return nil, err
	}
	a.writer = enrollments.NewWriter(mdb)

	gw, err := gateway.NewClient(gateway.Conf{
		Key:       cfg.Gateway.APIKey,
		PublicKey: cfg.Gateway.PublicKey,
		URL:       cfg.Gateway.URL,
		Timeout:   cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, err
	}

	var publisher purchase.Publisher
	if len(cfg.Kafka) > 0 {
		if a.kafka, err = kafka.NewConf(cfg.Kafka); err != nil {
			return nil, err
		}
		publisher = a.kafka
	} else {
		slog.Warn("KAFKA_BROKERS not set, order confirmed events are not published")
	}

	a.purchase, err = purchase.New(purchase.Conf{
		SigningSecret:  cfg.Signing.Secret,
		Currency:       cfg.Currency,
		GatewayTimeout: cfg.Gateway.Timeout,
		RetryAttempts:  cfg.Retry.Attempts,
		RetryBase:      cfg.Retry.Base,
	}, purchase.Deps{
		Gateway:   gw,
		Orders:    a.orders,
		Catalog:   catalog.NewMongoCatalog(mdb),
		Enroller:  a.writer,
		Publisher: publisher,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build purchase orchestrator: %w", err)
	}
	ready = true
	return a, nil
}

func (a *app) close() {
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.mongoClient != nil {
		if err := a.mongoClient.Disconnect(context.Background()); err != nil {
			slog.Error("failed to disconnect mongo", slog.String(logkey.ERROR, err.Error()))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Error("failed to close db", slog.String(logkey.ERROR, err.Error()))
		}
	}
}
