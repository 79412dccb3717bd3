package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/example/vending-commerce/internal/domain/machine"
)

// DynamoMachineStore implements MachineStore on DynamoDB. One item per
// slot keyed by (machine_id, slot_number); slot 0 is reserved for the
// machine metadata item. Reservation uses a ConditionExpression so the
// quantity check and decrement are one atomic write.
type DynamoMachineStore struct {
	client    *dynamodb.Client
	tableName string
}

// metaSlot is the slot_number used by the machine metadata item.
const metaSlot = 0

const restoreRetries = 5

type dynamoSlot struct {
	MachineID   string `dynamodbav:"machine_id"`
	SlotNumber  int    `dynamodbav:"slot_number"`
	ProductID   string `dynamodbav:"product_id"`
	Quantity    int    `dynamodbav:"quantity"`
	MaxCapacity int    `dynamodbav:"max_capacity"`
	Price       string `dynamodbav:"price"`
}

type dynamoMachineMeta struct {
	MachineID  string `dynamodbav:"machine_id"`
	SlotNumber int    `dynamodbav:"slot_number"`
	Name       string `dynamodbav:"name"`
	Location   string `dynamodbav:"location"`
	CreatedAt  string `dynamodbav:"created_at"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

func NewDynamoMachineStore(client *dynamodb.Client, tableName string) *DynamoMachineStore {
	return &DynamoMachineStore{client: client, tableName: tableName}
}

func (s *DynamoMachineStore) Get(ctx context.Context, machineID string) (*machine.VendingMachine, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("machine_id = :mid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":mid": &types.AttributeValueMemberS{Value: machineID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query machine: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, machine.ErrMachineNotFound
	}

	m := &machine.VendingMachine{ID: machineID}
	for _, item := range result.Items {
		var slotNumber struct {
			SlotNumber int `dynamodbav:"slot_number"`
		}
		if err := attributevalue.UnmarshalMap(item, &slotNumber); err != nil {
			return nil, fmt.Errorf("unmarshal slot key: %w", err)
		}

		if slotNumber.SlotNumber == metaSlot {
			var meta dynamoMachineMeta
			if err := attributevalue.UnmarshalMap(item, &meta); err != nil {
				return nil, fmt.Errorf("unmarshal machine meta: %w", err)
			}
			m.Name = meta.Name
			m.Location = meta.Location
			if t, err := time.Parse(time.RFC3339Nano, meta.CreatedAt); err == nil {
				m.CreatedAt = t
			}
			if t, err := time.Parse(time.RFC3339Nano, meta.UpdatedAt); err == nil {
				m.UpdatedAt = t
			}
			continue
		}

		var ds dynamoSlot
		if err := attributevalue.UnmarshalMap(item, &ds); err != nil {
			return nil, fmt.Errorf("unmarshal slot: %w", err)
		}
		price, err := decimal.NewFromString(ds.Price)
		if err != nil {
			return nil, fmt.Errorf("parse slot price: %w", err)
		}
		m.Slots = append(m.Slots, machine.ProductSlot{
			SlotNumber:  ds.SlotNumber,
			ProductID:   ds.ProductID,
			Quantity:    ds.Quantity,
			MaxCapacity: ds.MaxCapacity,
			Price:       price,
		})
	}
	return m, nil
}

func (s *DynamoMachineStore) Save(ctx context.Context, m *machine.VendingMachine) error {
	meta := dynamoMachineMeta{
		MachineID:  m.ID,
		SlotNumber: metaSlot,
		Name:       m.Name,
		Location:   m.Location,
		CreatedAt:  m.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  time.Now().Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(meta)
	if err != nil {
		return fmt.Errorf("marshal machine meta: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("put machine meta: %w", err)
	}

	for _, slot := range m.Slots {
		av, err := attributevalue.MarshalMap(dynamoSlot{
			MachineID:   m.ID,
			SlotNumber:  slot.SlotNumber,
			ProductID:   slot.ProductID,
			Quantity:    slot.Quantity,
			MaxCapacity: slot.MaxCapacity,
			Price:       slot.Price.String(),
		})
		if err != nil {
			return fmt.Errorf("marshal slot: %w", err)
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      av,
		}); err != nil {
			return fmt.Errorf("put slot %d: %w", slot.SlotNumber, err)
		}
	}
	return nil
}

// ReserveSlot decrements with a condition on product and quantity, so
// the check-and-write cannot race with other orders.
func (s *DynamoMachineStore) ReserveSlot(ctx context.Context, machineID string, slotNumber int, productID string, quantity int) error {
	if quantity <= 0 {
		return machine.ErrInvalidQuantity
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"machine_id":  &types.AttributeValueMemberS{Value: machineID},
			"slot_number": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", slotNumber)},
		},
		UpdateExpression:    aws.String("SET quantity = quantity - :q"),
		ConditionExpression: aws.String("product_id = :p AND quantity >= :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
			":p": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err == nil {
		return nil
	}

	var condFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &condFailed) {
		return fmt.Errorf("reserve slot: %w", err)
	}

	// The condition failed: either the slot is gone/repurposed or the
	// stock ran out. Read the item once to tell them apart.
	slot, getErr := s.getSlot(ctx, machineID, slotNumber)
	if getErr != nil {
		return getErr
	}
	if slot.ProductID != productID {
		return machine.ErrSlotNotFound
	}
	return machine.ErrInsufficientStock
}

// RestoreSlot caps at max capacity. DynamoDB update expressions have
// no min(), so this reads the slot and writes the capped value behind
// an optimistic condition on the old quantity, retrying on contention.
func (s *DynamoMachineStore) RestoreSlot(ctx context.Context, machineID string, slotNumber int, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, machine.ErrInvalidQuantity
	}

	for attempt := 0; attempt < restoreRetries; attempt++ {
		slot, err := s.getSlot(ctx, machineID, slotNumber)
		if err != nil {
			return 0, err
		}
		if slot.ProductID != productID {
			return 0, machine.ErrSlotNotFound
		}

		restored := quantity
		if slot.Quantity+quantity > slot.MaxCapacity {
			restored = slot.MaxCapacity - slot.Quantity
		}
		target := slot.Quantity + restored

		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"machine_id":  &types.AttributeValueMemberS{Value: machineID},
				"slot_number": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", slotNumber)},
			},
			UpdateExpression:    aws.String("SET quantity = :target"),
			ConditionExpression: aws.String("quantity = :old"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":target": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", target)},
				":old":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", slot.Quantity)},
			},
		})
		if err == nil {
			return restored, nil
		}
		var condFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &condFailed) {
			return 0, fmt.Errorf("restore slot: %w", err)
		}
		// Quantity moved under us; re-read and retry.
	}
	return 0, fmt.Errorf("restore slot: too much contention on %s/%d", machineID, slotNumber)
}

func (s *DynamoMachineStore) getSlot(ctx context.Context, machineID string, slotNumber int) (*dynamoSlot, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"machine_id":  &types.AttributeValueMemberS{Value: machineID},
			"slot_number": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", slotNumber)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	if result.Item == nil {
		return nil, machine.ErrSlotNotFound
	}
	var slot dynamoSlot
	if err := attributevalue.UnmarshalMap(result.Item, &slot); err != nil {
		return nil, fmt.Errorf("unmarshal slot: %w", err)
	}
	return &slot, nil
}
