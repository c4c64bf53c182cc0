package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

const tableWaitTimeout = 30 * time.Second

type tableSpec struct {
	name   string
	pk     string
	sk     string
	skType dbtypes.ScalarAttributeType
}

// CreateTablesIfNotExist creates the required tables if they don't exist (local mode)
func CreateTablesIfNotExist(ctx context.Context, client *dynamodb.Client, cfg DynamoConfig, logger zerolog.Logger) error {
	specs := []tableSpec{
		{cfg.SessionsTable, "DateKey", "SessionID", dbtypes.ScalarAttributeTypeS},
		{cfg.TransitionsTable, "SessionID", "Seq", dbtypes.ScalarAttributeTypeN},
		{cfg.AgentDailyTable, "AgentID", "Date", dbtypes.ScalarAttributeTypeS},
	}

	for _, spec := range specs {
		if err := createTable(ctx, client, spec, logger); err != nil {
			return fmt.Errorf("failed to create table %s: %w", spec.name, err)
		}
	}
	return nil
}

func createTable(ctx context.Context, client *dynamodb.Client, spec tableSpec, logger zerolog.Logger) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(spec.name),
	})
	if err == nil {
		logger.Debug().Str("table", spec.name).Msg("table already exists")
		return nil
	}

	var notFound *dbtypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return err
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(spec.name),
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String(spec.pk), AttributeType: dbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String(spec.sk), AttributeType: spec.skType},
		},
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String(spec.pk), KeyType: dbtypes.KeyTypeHash},
			{AttributeName: aws.String(spec.sk), KeyType: dbtypes.KeyTypeRange},
		},
		BillingMode: dbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		return err
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(spec.name),
	}, tableWaitTimeout); err != nil {
		return fmt.Errorf("waiting for table %s: %w", spec.name, err)
	}

	logger.Info().Str("table", spec.name).Msg("table created")
	return nil
}
