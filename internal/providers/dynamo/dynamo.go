// Package dynamo pushes saved interview records to a DynamoDB table.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"agrivoice/internal/domain"
)

var ErrNoTable = errors.New("dynamodb table is not configured")

// PutItemAPI is the subset of the DynamoDB client the syncer needs.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Syncer implements ports.RecordSyncer.
type Syncer struct {
	client PutItemAPI
	table  string
}

func NewSyncer(client PutItemAPI, table string) *Syncer {
	return &Syncer{client: client, table: table}
}

// Connect builds a syncer from the default AWS credential chain.
func Connect(ctx context.Context, table, region string) (*Syncer, error) {
	if table == "" {
		return nil, ErrNoTable
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSyncer(dynamodb.NewFromConfig(cfg), table), nil
}

// item is the remote shape of a record. Slots are flattened so the table can be queried
// by work or date without decoding a blob.
type item struct {
	ID              string   `dynamodbav:"id"`
	Date            string   `dynamodbav:"date"`
	Location        string   `dynamodbav:"location"`
	LocationID      string   `dynamodbav:"location_id,omitempty"`
	MaxTemp         *float64 `dynamodbav:"max_temp,omitempty"`
	MinTemp         *float64 `dynamodbav:"min_temp,omitempty"`
	Humidity        *float64 `dynamodbav:"humidity,omitempty"`
	WorkLog         string   `dynamodbav:"work_log,omitempty"`
	PlantStatus     string   `dynamodbav:"plant_status,omitempty"`
	Fertilizer      string   `dynamodbav:"fertilizer,omitempty"`
	PestStatus      string   `dynamodbav:"pest_status,omitempty"`
	HarvestAmount   string   `dynamodbav:"harvest_amount,omitempty"`
	MaterialCost    string   `dynamodbav:"material_cost,omitempty"`
	WorkDuration    string   `dynamodbav:"work_duration,omitempty"`
	FuelCost        string   `dynamodbav:"fuel_cost,omitempty"`
	AdminLog        string   `dynamodbav:"admin_log"`
	AdminLogSource  string   `dynamodbav:"admin_log_source"`
	Advice          string   `dynamodbav:"advice,omitempty"`
	StrategicAdvice string   `dynamodbav:"strategic_advice,omitempty"`
	PhotoCount      int      `dynamodbav:"photo_count"`
	EstimatedProfit int      `dynamodbav:"estimated_profit,omitempty"`
	Timestamp       string   `dynamodbav:"timestamp"`
}

func toItem(r domain.LocalRecord) item {
	s := r.Slots
	return item{
		ID:              r.ID,
		Date:            r.Date,
		Location:        r.Location,
		LocationID:      r.LocationID,
		MaxTemp:         s.MaxTemp,
		MinTemp:         s.MinTemp,
		Humidity:        s.Humidity,
		WorkLog:         s.WorkLog,
		PlantStatus:     s.PlantStatus,
		Fertilizer:      s.Fertilizer,
		PestStatus:      s.PestStatus,
		HarvestAmount:   s.HarvestAmount,
		MaterialCost:    s.MaterialCost,
		WorkDuration:    s.WorkDuration,
		FuelCost:        s.FuelCost,
		AdminLog:        r.AdminLog,
		AdminLogSource:  string(r.AdminLogSource),
		Advice:          r.Advice,
		StrategicAdvice: r.StrategicAdvice,
		PhotoCount:      r.PhotoCount,
		EstimatedProfit: r.EstimatedProfit,
		Timestamp:       r.Timestamp.UTC().Format(time.RFC3339),
	}
}

// PushRecord writes the record. Records are immutable, so a repeated push overwrites
// the item with identical content.
func (s *Syncer) PushRecord(ctx context.Context, record domain.LocalRecord) error {
	if s.table == "" {
		return ErrNoTable
	}
	av, err := attributevalue.MarshalMap(toItem(record))
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to push record %s: %w", record.ID, err)
	}
	return nil
}
