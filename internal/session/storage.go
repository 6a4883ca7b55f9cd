package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	tdsession "github.com/gotd/td/session"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName 会话集合名称
const CollectionName = "sessions"

// Record MongoDB 中的会话记录，以会话名称为主键
type Record struct {
	Name      string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStorage 将 MTProto 会话保存在 MongoDB（实现 tdsession.Storage）
type MongoStorage struct {
	collection *mongo.Collection
	name       string
}

// NewMongoStorage 创建 MongoDB 会话存储
func NewMongoStorage(db *mongo.Database, name string) *MongoStorage {
	return &MongoStorage{
		collection: db.Collection(CollectionName),
		name:       name,
	}
}

// LoadSession 读取会话，不存在时返回 tdsession.ErrNotFound
func (s *MongoStorage) LoadSession(ctx context.Context) ([]byte, error) {
	var record Record
	err := s.collection.FindOne(ctx, bson.M{"_id": s.name}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, tdsession.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session %q: %w", s.name, err)
	}
	if len(record.Data) == 0 {
		return nil, tdsession.ErrNotFound
	}
	return record.Data, nil
}

// StoreSession 保存（覆盖）会话
func (s *MongoStorage) StoreSession(ctx context.Context, data []byte) error {
	update := bson.M{
		"$set": bson.M{
			"data":       data,
			"updated_at": time.Now().UTC(),
		},
	}

	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": s.name}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store session %q: %w", s.name, err)
	}
	return nil
}

// FilePath 本地会话文件路径
func FilePath(dir, name string) string {
	return filepath.Join(dir, name+".session.json")
}

// Open 选择会话存储：有数据库时用 MongoDB，否则用本地文件
func Open(db *mongo.Database, dir, name string) tdsession.Storage {
	if db != nil {
		return NewMongoStorage(db, name)
	}
	return &tdsession.FileStorage{Path: FilePath(dir, name)}
}
