package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"messaging-ledger/handler"
	"messaging-ledger/internal/integrations/eventbus"
	"messaging-ledger/internal/integrations/paramstore"
	"messaging-ledger/internal/integrations/webhook"
	"messaging-ledger/internal/repository"
	"messaging-ledger/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(envString("LOG_LEVEL", "info")); err == nil {
		logrus.SetLevel(level)
	}

	ledgerTable := mustEnv("LEDGER_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	ledgerID := envString("LEDGER_ID", "default")
	maxRecipients := envInt("MAX_BULK_RECIPIENTS", 64)
	maxMessageBytes := envInt("MAX_MESSAGE_BYTES", 16*1024)
	eventSink := strings.ToLower(envString("EVENT_SINK", "none"))
	subjectPrefix := envString("EVENT_SUBJECT_PREFIX", "ledger")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load AWS config")
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logrus.WithError(err).Fatal("failed to create SSM client")
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), ledgerTable)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create state client")
	}

	publisher, err := newPublisher(eventSink, subjectPrefix, ssmClient, paramPrefix)
	if err != nil {
		logrus.WithError(err).WithField("sink", eventSink).Fatal("failed to create event publisher")
	}

	// ---- Handler ----
	ledgerService, err := usecase.NewLedgerService(ssmClient, stateClient, publisher, ledgerID, paramPrefix, maxRecipients, maxMessageBytes)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create ledger service")
	}

	h, err := handler.NewHandler(ledgerService)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create handler")
	}

	logrus.WithFields(logrus.Fields{
		"ledger_id": ledgerID,
		"sink":      eventSink,
	}).Info("starting ledger handler")
	lambda.Start(h.Handle)
}

// newPublisher connects the configured event sink. A nil publisher disables
// fan-out; committed events stay in the ledger's event log.
func newPublisher(sink, subjectPrefix string, ssmClient *paramstore.Client, paramPrefix string) (usecase.EventPublisher, error) {
	switch sink {
	case "", "none":
		return nil, nil
	case "nats":
		conn, err := nats.Connect(mustEnv("NATS_URL"),
			nats.Name("messaging-ledger"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, err
		}
		return eventbus.NewNATSPublisher(conn, subjectPrefix)
	case "mqtt":
		clientID := envString("MQTT_CLIENT_ID", "messaging-ledger-"+uuid.NewString()[:8])
		client := eventbus.NewMQTTClient(mustEnv("MQTT_BROKER"), clientID)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, token.Error()
		}
		return eventbus.NewMQTTPublisher(client, subjectPrefix)
	case "webhook":
		return webhook.NewClient(ssmClient, paramPrefix, mustEnv("WEBHOOK_URL"))
	default:
		logrus.WithField("sink", sink).Warn("unknown event sink, fan-out disabled")
		return nil, nil
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logrus.WithField("key", key).Fatal("required environment variable is not set")
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
