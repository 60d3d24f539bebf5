package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tire-assistant/internal/domain"
)

const (
	skPrefixMsg   = "MSG#"
	skPrefixUser  = "USER#"
	skPrefixAct   = "ACTIVE#"
	skPrefixItem  = "ITEM#"
	skPrefixAlt   = "ALT#"
	skMeta        = "META#"
	skCustomer    = "CUSTOMER"
	skLease       = "LEASE"
	conditionNew  = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
	timeLayoutKey = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoClient.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoClient stores customers, conversations, messages and inventory in a
// single DynamoDB table keyed by PK/SK.
//
// Item layout:
//
//	PAGE#<pageId>            CUSTOMER              customer profile
//	CUST#<customerId>        USER#<senderId>       channel user binding
//	CUST#<customerId>        ACTIVE#<senderId>     pointer to the active conversation
//	CONV#<conversationId>    META#                 conversation status and activity
//	CONV#<conversationId>    MSG#<ts>#<suffix>     message
//	INV#<customerId>#<size>  ITEM#<itemId>         inventory item
//	COMPAT#<size>            ALT#<prio>#<size>     compatible size
//	LEASE#<key>              LEASE                 per-conversation lease
type DynamoClient struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamo creates a new DynamoDB-backed repository.
func NewDynamo(api dynamodbAPI, tableName string) (*DynamoClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoClient{api: api, tableName: tableName, now: time.Now}, nil
}

func pagePK(pageID string) string                { return "PAGE#" + pageID }
func customerPK(customerID string) string        { return "CUST#" + customerID }
func convPK(conversationID string) string        { return "CONV#" + conversationID }
func inventoryPK(customerID, size string) string { return "INV#" + customerID + "#" + size }
func compatPK(size string) string                { return "COMPAT#" + size }
func leasePK(key string) string                  { return "LEASE#" + key }

// msgSK returns the sort key for a message. The random suffix keeps two
// messages written in the same nanosecond distinct.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(timeLayoutKey) + "#" + uuid.NewString()[:8]
}

func altSK(priority int, size string) string {
	return fmt.Sprintf("%s%04d#%s", skPrefixAlt, priority, size)
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// ResolveCustomer returns the customer bound to a Messenger page.
func (c *DynamoClient) ResolveCustomer(ctx context.Context, pageID string) (domain.Customer, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(pagePK(pageID), skCustomer),
	})
	if err != nil {
		return domain.Customer{}, fmt.Errorf("repository: ResolveCustomer get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Customer{}, ErrNotFound
	}
	customer, err := itemToCustomer(out.Item)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("repository: ResolveCustomer decode: %w", err)
	}
	customer.PageID = pageID
	return customer, nil
}

// PutCustomer provisions or replaces a customer profile.
func (c *DynamoClient) PutCustomer(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" || customer.PageID == "" {
		return errors.New("repository: PutCustomer: customer id and page id are required")
	}
	item := key(pagePK(customer.PageID), skCustomer)
	item["customerId"] = &types.AttributeValueMemberS{Value: customer.ID}
	item["name"] = &types.AttributeValueMemberS{Value: customer.Name}
	item["address"] = &types.AttributeValueMemberS{Value: customer.Address}
	item["hours"] = &types.AttributeValueMemberS{Value: customer.Hours}
	if len(customer.Services) > 0 {
		item["services"] = &types.AttributeValueMemberSS{Value: customer.Services}
	}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: PutCustomer: %w", err)
	}
	return nil
}

// ResolveOrCreateChannelUser returns the binding id for the sender, creating
// it on first contact. A conditional put keeps at most one binding per pair.
func (c *DynamoClient) ResolveOrCreateChannelUser(ctx context.Context, senderID, customerID string) (string, error) {
	k := key(customerPK(customerID), skPrefixUser+senderID)
	if id, ok, err := c.getStringAttr(ctx, k, "id"); err != nil {
		return "", fmt.Errorf("repository: ResolveOrCreateChannelUser lookup: %w", err)
	} else if ok {
		return id, nil
	}

	id := uuid.NewString()
	item := key(customerPK(customerID), skPrefixUser+senderID)
	item["id"] = &types.AttributeValueMemberS{Value: id}
	item["senderId"] = &types.AttributeValueMemberS{Value: senderID}
	item["customerId"] = &types.AttributeValueMemberS{Value: customerID}
	item["createdAt"] = &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339Nano)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String(conditionNew),
	})
	if err == nil {
		return id, nil
	}
	var condErr *types.ConditionalCheckFailedException
	if !errors.As(err, &condErr) {
		return "", fmt.Errorf("repository: ResolveOrCreateChannelUser put: %w", err)
	}
	// Lost the race; the winner's binding is authoritative.
	existing, ok, err := c.getStringAttr(ctx, k, "id")
	if err != nil {
		return "", fmt.Errorf("repository: ResolveOrCreateChannelUser reread: %w", err)
	}
	if !ok {
		return "", errors.New("repository: ResolveOrCreateChannelUser: binding vanished after conflict")
	}
	return existing, nil
}

// ResolveOrCreateActiveConversation returns the active conversation for the
// pair or creates one. The ACTIVE# pointer is written with a condition so two
// concurrent creators cannot both succeed.
func (c *DynamoClient) ResolveOrCreateActiveConversation(ctx context.Context, senderID, customerID string) (string, error) {
	pointer := key(customerPK(customerID), skPrefixAct+senderID)
	if id, ok, err := c.getStringAttr(ctx, pointer, "conversationId"); err != nil {
		return "", fmt.Errorf("repository: ResolveOrCreateActiveConversation lookup: %w", err)
	} else if ok {
		return id, nil
	}

	id := uuid.NewString()
	now := c.now().UTC().Format(time.RFC3339Nano)

	pointerItem := key(customerPK(customerID), skPrefixAct+senderID)
	pointerItem["conversationId"] = &types.AttributeValueMemberS{Value: id}

	metaItem := key(convPK(id), skMeta)
	metaItem["conversationId"] = &types.AttributeValueMemberS{Value: id}
	metaItem["senderId"] = &types.AttributeValueMemberS{Value: senderID}
	metaItem["customerId"] = &types.AttributeValueMemberS{Value: customerID}
	metaItem["status"] = &types.AttributeValueMemberS{Value: string(domain.ConversationActive)}
	metaItem["lastActivity"] = &types.AttributeValueMemberS{Value: now}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                pointerItem,
					ConditionExpression: aws.String(conditionNew),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                metaItem,
					ConditionExpression: aws.String(conditionNew),
				},
			},
		},
	})
	if err == nil {
		return id, nil
	}
	var cancelled *types.TransactionCanceledException
	if !errors.As(err, &cancelled) {
		return "", fmt.Errorf("repository: ResolveOrCreateActiveConversation create: %w", err)
	}
	existing, ok, err := c.getStringAttr(ctx, pointer, "conversationId")
	if err != nil {
		return "", fmt.Errorf("repository: ResolveOrCreateActiveConversation reread: %w", err)
	}
	if !ok {
		return "", errors.New("repository: ResolveOrCreateActiveConversation: pointer vanished after conflict")
	}
	return existing, nil
}

// AppendMessage persists a new immutable message and returns its id.
func (c *DynamoClient) AppendMessage(ctx context.Context, msg domain.Message) (string, error) {
	if msg.ConversationID == "" {
		return "", errors.New("repository: AppendMessage: conversation id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String(conditionNew),
	})
	if err != nil {
		return "", fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return msg.ID, nil
}

// RecentHistory returns up to limit most recent messages, oldest first.
func (c *DynamoClient) RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentHistory query: %w", err)
	}

	entries := make([]domain.HistoryEntry, 0, len(out.Items))
	for _, item := range out.Items {
		body, err := strAttr(item, "body")
		if err != nil {
			return nil, fmt.Errorf("repository: RecentHistory unmarshal: %w", err)
		}
		role, err := strAttr(item, "role")
		if err != nil {
			return nil, fmt.Errorf("repository: RecentHistory unmarshal: %w", err)
		}
		entries = append(entries, domain.HistoryEntry{Role: domain.Role(role), Body: body})
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// TouchConversation records activity on an existing conversation.
func (c *DynamoClient) TouchConversation(ctx context.Context, conversationID string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(convPK(conversationID), skMeta),
		UpdateExpression:    aws.String("SET lastActivity = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: TouchConversation: %w", err)
	}
	return nil
}

// CloseConversation marks the conversation closed and clears the active
// pointer so the next message opens a new conversation.
func (c *DynamoClient) CloseConversation(ctx context.Context, conversationID string) error {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(convPK(conversationID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("repository: CloseConversation get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return ErrNotFound
	}
	senderID, err := strAttr(out.Item, "senderId")
	if err != nil {
		return fmt.Errorf("repository: CloseConversation decode: %w", err)
	}
	customerID, err := strAttr(out.Item, "customerId")
	if err != nil {
		return fmt.Errorf("repository: CloseConversation decode: %w", err)
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:        aws.String(c.tableName),
					Key:              key(convPK(conversationID), skMeta),
					UpdateExpression: aws.String("SET #status = :closed, lastActivity = :now"),
					ExpressionAttributeNames: map[string]string{
						"#status": "status",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":closed": &types.AttributeValueMemberS{Value: string(domain.ConversationClosed)},
						":now":    &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339Nano)},
					},
				},
			},
			{
				Delete: &types.Delete{
					TableName:           aws.String(c.tableName),
					Key:                 key(customerPK(customerID), skPrefixAct+senderID),
					ConditionExpression: aws.String("conversationId = :id"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id": &types.AttributeValueMemberS{Value: conversationID},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: CloseConversation: %w", err)
	}
	return nil
}

// SearchInventory returns the available items of one size for a customer.
func (c *DynamoClient) SearchInventory(ctx context.Context, size, customerID string) ([]domain.InventoryItem, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("available = :yes"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: inventoryPK(customerID, size)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixItem},
			":yes":    &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: SearchInventory query: %w", err)
	}
	items := make([]domain.InventoryItem, 0, len(out.Items))
	for _, raw := range out.Items {
		item, err := itemToInventory(raw)
		if err != nil {
			return nil, fmt.Errorf("repository: SearchInventory unmarshal: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// PutInventoryItem stores or replaces one inventory item.
func (c *DynamoClient) PutInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	if item.CustomerID == "" || item.Size == "" {
		return errors.New("repository: PutInventoryItem: customer id and size are required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	av := key(inventoryPK(item.CustomerID, item.Size), skPrefixItem+item.ID)
	av["id"] = &types.AttributeValueMemberS{Value: item.ID}
	av["customerId"] = &types.AttributeValueMemberS{Value: item.CustomerID}
	av["brand"] = &types.AttributeValueMemberS{Value: item.Brand}
	av["size"] = &types.AttributeValueMemberS{Value: item.Size}
	av["price"] = &types.AttributeValueMemberN{Value: item.Price.String()}
	av["condition"] = &types.AttributeValueMemberS{Value: item.Condition}
	av["location"] = &types.AttributeValueMemberS{Value: item.Location}
	av["available"] = &types.AttributeValueMemberBOOL{Value: item.Available}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("repository: PutInventoryItem: %w", err)
	}
	return nil
}

// CompatibleSizes lists alternatives for size ordered by priority.
func (c *DynamoClient) CompatibleSizes(ctx context.Context, size string) ([]string, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: compatPK(size)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixAlt},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: CompatibleSizes query: %w", err)
	}
	sizes := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		alt, err := strAttr(item, "alternativeSize")
		if err != nil {
			return nil, fmt.Errorf("repository: CompatibleSizes unmarshal: %w", err)
		}
		sizes = append(sizes, alt)
	}
	return sizes, nil
}

// PutCompatibility stores one compatibility row.
func (c *DynamoClient) PutCompatibility(ctx context.Context, row domain.SizeCompatibility) error {
	if row.OriginalSize == "" || row.AlternativeSize == "" {
		return errors.New("repository: PutCompatibility: sizes are required")
	}
	item := key(compatPK(row.OriginalSize), altSK(row.Priority, row.AlternativeSize))
	item["originalSize"] = &types.AttributeValueMemberS{Value: row.OriginalSize}
	item["alternativeSize"] = &types.AttributeValueMemberS{Value: row.AlternativeSize}
	item["priority"] = &types.AttributeValueMemberN{Value: strconv.Itoa(row.Priority)}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: PutCompatibility: %w", err)
	}
	return nil
}

// AcquireLease takes the lease for key unless another owner holds an
// unexpired one. Re-acquiring with the same owner extends it.
func (c *DynamoClient) AcquireLease(ctx context.Context, leaseKey, owner string, ttl time.Duration) error {
	now := c.now()
	item := key(leasePK(leaseKey), skLease)
	item["owner"] = &types.AttributeValueMemberS{Value: owner}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).UnixMilli(), 10)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expiresAt < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrLeaseHeld
	}
	return fmt.Errorf("repository: AcquireLease: %w", err)
}

// ReleaseLease drops the lease if owner still holds it.
func (c *DynamoClient) ReleaseLease(ctx context.Context, leaseKey, owner string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(leasePK(leaseKey), skLease),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return fmt.Errorf("repository: ReleaseLease: %w", err)
}

func (c *DynamoClient) getStringAttr(ctx context.Context, k map[string]types.AttributeValue, attr string) (string, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, err
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	v, err := strAttr(out.Item, attr)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := key(convPK(msg.ConversationID), msgSK(msg.CreatedAt))
	item["id"] = &types.AttributeValueMemberS{Value: msg.ID}
	item["conversationId"] = &types.AttributeValueMemberS{Value: msg.ConversationID}
	item["customerId"] = &types.AttributeValueMemberS{Value: msg.CustomerID}
	item["senderId"] = &types.AttributeValueMemberS{Value: msg.SenderID}
	item["body"] = &types.AttributeValueMemberS{Value: msg.Body}
	item["role"] = &types.AttributeValueMemberS{Value: string(msg.Role)}
	item["createdAt"] = &types.AttributeValueMemberS{Value: msg.CreatedAt.UTC().Format(time.RFC3339Nano)}
	return item
}

func itemToCustomer(item map[string]types.AttributeValue) (domain.Customer, error) {
	id, err := strAttr(item, "customerId")
	if err != nil {
		return domain.Customer{}, err
	}
	name, _ := strAttr(item, "name")       // allow empty
	address, _ := strAttr(item, "address") // allow empty
	hours, _ := strAttr(item, "hours")     // allow empty
	var services []string
	if ss, ok := item["services"].(*types.AttributeValueMemberSS); ok {
		services = ss.Value
	}
	return domain.Customer{
		ID:       id,
		Name:     name,
		Address:  address,
		Hours:    hours,
		Services: services,
	}, nil
}

func itemToInventory(item map[string]types.AttributeValue) (domain.InventoryItem, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.InventoryItem{}, err
	}
	brand, err := strAttr(item, "brand")
	if err != nil {
		return domain.InventoryItem{}, err
	}
	size, err := strAttr(item, "size")
	if err != nil {
		return domain.InventoryItem{}, err
	}
	price, err := decimalAttr(item, "price")
	if err != nil {
		return domain.InventoryItem{}, err
	}
	customerID, _ := strAttr(item, "customerId")
	condition, _ := strAttr(item, "condition")
	location, _ := strAttr(item, "location")
	available := false
	if b, ok := item["available"].(*types.AttributeValueMemberBOOL); ok {
		available = b.Value
	}
	return domain.InventoryItem{
		ID:         id,
		CustomerID: customerID,
		Brand:      brand,
		Size:       size,
		Price:      price,
		Condition:  condition,
		Location:   location,
		Available:  available,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func decimalAttr(item map[string]types.AttributeValue, key string) (decimal.Decimal, error) {
	v, ok := item[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	d, err := decimal.NewFromString(n.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return d, nil
}
