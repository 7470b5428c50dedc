package checkpoint

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/state"
)

const defaultDynamoTable = "navigator-checkpoints"

// dynamodbAPI 是 DynamoStore 需要的最小接口，便于在测试中替换。
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore 每个会话保存为一条 DynamoDB 记录，主键为 "SESSION#<id>"。
type DynamoStore struct {
	api   dynamodbAPI
	table string
}

// NewDynamo 使用默认 AWS 凭证链创建存储。
func NewDynamo(ctx context.Context, cfg Config) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, "加载 AWS 配置失败")
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return newDynamoStore(client, cfg.Table)
}

func newDynamoStore(api dynamodbAPI, table string) (*DynamoStore, error) {
	if api == nil {
		return nil, xerrors.New(xerrors.CodeInitFailure, "DynamoDB 客户端不能为空")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = defaultDynamoTable
	}
	return &DynamoStore{api: api, table: table}, nil
}

func sessionKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SESSION#" + sessionID},
	}
}

// Save 实现 Store。
func (d *DynamoStore) Save(ctx context.Context, sessionID string, st *state.Conversation) error {
	raw, err := encode(sessionID, st)
	if err != nil {
		return err
	}
	item := sessionKey(sessionID)
	item["sessionId"] = &types.AttributeValueMemberS{Value: sessionID}
	item["phase"] = &types.AttributeValueMemberS{Value: string(st.Phase)}
	item["request"] = &types.AttributeValueMemberN{Value: strconv.Itoa(st.Request)}
	item["state"] = &types.AttributeValueMemberS{Value: string(raw)}
	item["updatedAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixMilli(), 10)}

	if _, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return failure(err, "写入 DynamoDB 快照失败", sessionID)
	}
	return nil
}

// Load 实现 Store。
func (d *DynamoStore) Load(ctx context.Context, sessionID string) (*state.Conversation, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            sessionKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, failure(err, "读取 DynamoDB 快照失败", sessionID)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	attr, ok := out.Item["state"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, xerrors.New(xerrors.CodeCheckpointFailure, "DynamoDB 快照缺少 state 字段",
			xerrors.WithMetadata("session_id", sessionID))
	}
	return decode([]byte(attr.Value))
}

// Close 实现 Store。DynamoDB 客户端无需释放。
func (d *DynamoStore) Close() error { return nil }
