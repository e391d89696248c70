// Package records mirrors study data to an external record store. Every
// write is best-effort: callers log failures and keep going on local state,
// so nothing here is allowed to stall the participant flow.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

// SessionRecord is the remote row created when a session begins.
type SessionRecord struct {
	RecordID  string `dynamodbav:"recordId"`
	SessionID string `dynamodbav:"sessionId"`
	GameType  string `dynamodbav:"gameType"`
	IsDemo    bool   `dynamodbav:"isDemo"`
	Status    string `dynamodbav:"status"`
	CreatedAt string `dynamodbav:"createdAt"`
}

const (
	sessionStatusActive    = "active"
	sessionStatusCompleted = "completed"

	sessionIDIndex = "sessionId-index"
)

// ErrSessionRecordNotFound indicates the lookup-by-sessionId fallback found
// no matching remote record.
var ErrSessionRecordNotFound = errors.New("records: session record not found")

// Store is the persistence port for the external record service.
type Store interface {
	// CreateSessionRecord creates the remote session row and returns its
	// opaque record id.
	CreateSessionRecord(ctx context.Context, sessionID, gameType string, isDemo bool, createdAt time.Time) (string, error)
	// SubmitDemographics mirrors the demographics record for a session.
	SubmitDemographics(ctx context.Context, sessionID string, demographics any) error
	// SubmitResponse mirrors one game response. recordKey distinguishes
	// responses within a session (e.g. "det_<session>_<turn>").
	SubmitResponse(ctx context.Context, sessionID, gameType, recordKey string, response any) error
	// CompleteSession marks the remote session row completed, preferring the
	// stored record id and falling back to a lookup by session id.
	CompleteSession(ctx context.Context, sessionID, recordID string) error
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore persists study records to DynamoDB.
type DynamoStore struct {
	client         dynamoAPI
	sessionsTable  string
	responsesTable string
	logger         *logging.Logger
	tracer         trace.Tracer
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, sessionsTable, responsesTable string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("records: dynamodb client cannot be nil")
	}
	if sessionsTable == "" || responsesTable == "" {
		panic("records: table names cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &DynamoStore{
		client:         client,
		sessionsTable:  sessionsTable,
		responsesTable: responsesTable,
		logger:         logger,
		tracer:         otel.Tracer("study.internal.records"),
	}
}

// CreateSessionRecord inserts the remote session row.
func (s *DynamoStore) CreateSessionRecord(ctx context.Context, sessionID, gameType string, isDemo bool, createdAt time.Time) (string, error) {
	ctx, span := s.tracer.Start(ctx, "records.create_session")
	defer span.End()

	if sessionID == "" {
		return "", errors.New("records: sessionID required")
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	record := SessionRecord{
		RecordID:  "rec_" + uuid.NewString(),
		SessionID: sessionID,
		GameType:  gameType,
		IsDemo:    isDemo,
		Status:    sessionStatusActive,
		CreatedAt: createdAt.Format(time.RFC3339),
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("records: failed to marshal session record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.sessionsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(recordId)"),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("records: failed to create session record: %w", err)
	}
	return record.RecordID, nil
}

// SubmitDemographics mirrors demographics under a deterministic record key
// so repeated submissions cannot produce duplicate rows.
func (s *DynamoStore) SubmitDemographics(ctx context.Context, sessionID string, demographics any) error {
	ctx, span := s.tracer.Start(ctx, "records.submit_demographics")
	defer span.End()

	if sessionID == "" {
		return errors.New("records: sessionID required")
	}
	return s.putResponseItem(ctx, span, "demo_"+sessionID, sessionID, "demographics", demographics)
}

// SubmitResponse mirrors one game response row.
func (s *DynamoStore) SubmitResponse(ctx context.Context, sessionID, gameType, recordKey string, response any) error {
	ctx, span := s.tracer.Start(ctx, "records.submit_response")
	defer span.End()

	if sessionID == "" {
		return errors.New("records: sessionID required")
	}
	if recordKey == "" {
		return errors.New("records: recordKey required")
	}
	return s.putResponseItem(ctx, span, recordKey, sessionID, gameType, response)
}

func (s *DynamoStore) putResponseItem(ctx context.Context, span trace.Span, recordID, sessionID, recordType string, payload any) error {
	payloadAttr, err := attributevalue.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("records: failed to marshal %s payload: %w", recordType, err)
	}

	item := map[string]types.AttributeValue{
		"recordId":    &types.AttributeValueMemberS{Value: recordID},
		"sessionId":   &types.AttributeValueMemberS{Value: sessionID},
		"recordType":  &types.AttributeValueMemberS{Value: recordType},
		"payload":     payloadAttr,
		"submittedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.responsesTable),
		Item:      item,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("records: failed to persist %s record: %w", recordType, err)
	}
	return nil
}

// CompleteSession marks the remote session row completed. With a record id
// the update is direct; without one it falls back to a Query by session id,
// which the caller must treat as fallible.
func (s *DynamoStore) CompleteSession(ctx context.Context, sessionID, recordID string) error {
	ctx, span := s.tracer.Start(ctx, "records.complete_session")
	defer span.End()

	if recordID == "" {
		found, err := s.lookupRecordID(ctx, sessionID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		recordID = found
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.sessionsTable),
		Key: map[string]types.AttributeValue{
			"recordId": &types.AttributeValueMemberS{Value: recordID},
		},
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: sessionStatusCompleted},
			":completed": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		UpdateExpression: aws.String("SET #status = :status, completedAt = :completed"),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("records: failed to complete session record: %w", err)
	}
	return nil
}

func (s *DynamoStore) lookupRecordID(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("records: sessionID required")
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.sessionsTable),
		IndexName:              aws.String(sessionIDIndex),
		KeyConditionExpression: aws.String("sessionId = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("records: session lookup failed: %w", err)
	}
	if len(out.Items) == 0 {
		return "", ErrSessionRecordNotFound
	}

	var record SessionRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &record); err != nil {
		return "", fmt.Errorf("records: failed to decode session record: %w", err)
	}
	if record.RecordID == "" {
		return "", ErrSessionRecordNotFound
	}
	return record.RecordID, nil
}
